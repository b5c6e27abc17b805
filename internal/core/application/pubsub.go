package application

import (
	"context"
	"time"

	"github.com/synonymdev/bitkit-balanced/internal/core/application/pubsub"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

// PubSubService manages the webhook subscriptions and publishes the events
// of the engine to them.
type PubSubService interface {
	AddWebhook(ctx context.Context, topic, endpoint, secret string) (string, error)
	RemoveWebhook(ctx context.Context, id string) error
	ListWebhooks(ctx context.Context, topic string) ([]ports.Subscription, error)

	PublishBalanceUpdatedEvent(state domain.BalanceState) error
	PublishCoopCloseGaveUpEvent(
		campaignId string, startedAt time.Time, channels []domain.ChannelInfo,
	) error
	PublishTransferSettledEvent(transfer domain.Transfer) error
}

func NewPubSubService(ps ports.PubSub) PubSubService {
	return pubsub.NewService(ps)
}
