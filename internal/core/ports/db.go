package ports

import "github.com/synonymdev/bitkit-balanced/internal/core/domain"

// RepoManager gives access to the repositories of the daemon.
type RepoManager interface {
	TransferRepository() domain.TransferRepository
	WebhookRepository() domain.WebhookRepository

	Close()
}
