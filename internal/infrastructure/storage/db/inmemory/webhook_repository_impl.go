package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

type webhookRepositoryImpl struct {
	store map[string]domain.Webhook
	lock  *sync.RWMutex
}

func NewWebhookRepositoryImpl() domain.WebhookRepository {
	return &webhookRepositoryImpl{
		store: make(map[string]domain.Webhook),
		lock:  &sync.RWMutex{},
	}
}

func (r *webhookRepositoryImpl) AddWebhook(
	_ context.Context, hook domain.Webhook,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.store[hook.Id]; ok {
		return domain.ErrWebhookAlreadyExists
	}
	r.store[hook.Id] = hook
	return nil
}

func (r *webhookRepositoryImpl) GetWebhook(
	_ context.Context, id string,
) (*domain.Webhook, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	hook, ok := r.store[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return &hook, nil
}

func (r *webhookRepositoryImpl) DeleteWebhook(
	_ context.Context, id string,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.store[id]; !ok {
		return domain.ErrWebhookNotFound
	}
	delete(r.store, id)
	return nil
}

func (r *webhookRepositoryImpl) ListWebhooksForEvent(
	_ context.Context, event string,
) ([]domain.Webhook, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	hooks := make([]domain.Webhook, 0, len(r.store))
	for _, hook := range r.store {
		if len(event) > 0 && hook.Event != event {
			continue
		}
		hooks = append(hooks, hook)
	}

	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Id < hooks[j].Id
	})
	return hooks, nil
}
