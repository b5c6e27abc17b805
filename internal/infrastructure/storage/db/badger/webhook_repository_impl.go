package dbbadger

import (
	"context"
	"sort"

	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type webhookRepositoryImpl struct {
	store *badgerhold.Store
}

func NewWebhookRepositoryImpl(store *badgerhold.Store) domain.WebhookRepository {
	return &webhookRepositoryImpl{store}
}

func (r *webhookRepositoryImpl) AddWebhook(
	_ context.Context, hook domain.Webhook,
) error {
	if err := r.store.Insert(hook.Id, hook); err != nil {
		if err == badgerhold.ErrKeyExists {
			return domain.ErrWebhookAlreadyExists
		}
		return err
	}
	return nil
}

func (r *webhookRepositoryImpl) GetWebhook(
	_ context.Context, id string,
) (*domain.Webhook, error) {
	var hook domain.Webhook
	if err := r.store.Get(id, &hook); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, err
	}
	return &hook, nil
}

func (r *webhookRepositoryImpl) DeleteWebhook(
	_ context.Context, id string,
) error {
	if err := r.store.Delete(id, domain.Webhook{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return domain.ErrWebhookNotFound
		}
		return err
	}
	return nil
}

func (r *webhookRepositoryImpl) ListWebhooksForEvent(
	_ context.Context, event string,
) ([]domain.Webhook, error) {
	var query *badgerhold.Query
	if len(event) > 0 {
		query = badgerhold.Where("Event").Eq(event)
	}

	var hooks []domain.Webhook
	if err := r.store.Find(&hooks, query); err != nil {
		return nil, err
	}

	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Id < hooks[j].Id
	})
	return hooks, nil
}
