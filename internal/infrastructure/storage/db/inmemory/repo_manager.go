package inmemory

import (
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

type repoManager struct {
	transferRepository domain.TransferRepository
	webhookRepository  domain.WebhookRepository
}

func NewRepoManager() ports.RepoManager {
	return &repoManager{
		transferRepository: NewTransferRepositoryImpl(),
		webhookRepository:  NewWebhookRepositoryImpl(),
	}
}

func (r *repoManager) TransferRepository() domain.TransferRepository {
	return r.transferRepository
}

func (r *repoManager) WebhookRepository() domain.WebhookRepository {
	return r.webhookRepository
}

func (r *repoManager) Close() {}
