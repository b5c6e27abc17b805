package domain

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// Webhook is an endpoint subscribed to the events published for a topic.
type Webhook struct {
	Id       string
	Event    string
	Endpoint string
	Secret   string
}

// NewWebhook validates the given args and returns a webhook with a new id.
func NewWebhook(event, endpoint, secret string) (*Webhook, error) {
	if len(event) <= 0 {
		return nil, fmt.Errorf("missing event")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, ErrWebhookInvalidEndpoint
	}
	return &Webhook{uuid.New().String(), event, endpoint, secret}, nil
}

func (h Webhook) IsSecured() bool {
	return len(h.Secret) > 0
}

// WebhookRepository is the abstraction for any kind of database intended to
// persist webhook subscriptions.
type WebhookRepository interface {
	AddWebhook(ctx context.Context, hook Webhook) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
	// ListWebhooksForEvent returns the webhooks subscribed to the given event,
	// or all of them if the event is empty.
	ListWebhooksForEvent(ctx context.Context, event string) ([]Webhook, error)
}
