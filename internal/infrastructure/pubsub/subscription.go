package pubsub

import (
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

// subscription exposes a stored webhook as a ports.Subscription.
type subscription struct {
	domain.Webhook
}

type subscriptions []subscription

func (s subscriptions) toPortable() []ports.Subscription {
	subs := make([]ports.Subscription, 0, len(s))
	for i := range s {
		sub := s[i]
		subs = append(subs, &sub)
	}
	return subs
}

func (s *subscription) Topic() string {
	return s.Event
}

func (s *subscription) Id() string {
	return s.Webhook.Id
}

func (s *subscription) NotifyAt() string {
	return s.Endpoint
}

func (s *subscription) IsSecured() bool {
	return len(s.Secret) > 0
}
