package postgresdb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

const (
	insertWebhookQuery = `INSERT INTO webhook (id, event, endpoint, secret)
		VALUES ($1, $2, $3, $4)`
	selectWebhookQuery = `SELECT id, event, endpoint, secret
		FROM webhook WHERE id = $1`
	deleteWebhookQuery     = `DELETE FROM webhook WHERE id = $1`
	selectAllWebhooksQuery = `SELECT id, event, endpoint, secret
		FROM webhook ORDER BY id`
	selectWebhooksForEventQuery = `SELECT id, event, endpoint, secret
		FROM webhook WHERE event = $1 ORDER BY id`
)

type webhookRepositoryImpl struct {
	pool *pgxpool.Pool
}

func NewWebhookRepositoryImpl(pool *pgxpool.Pool) domain.WebhookRepository {
	return &webhookRepositoryImpl{pool}
}

func (r *webhookRepositoryImpl) AddWebhook(
	ctx context.Context, hook domain.Webhook,
) error {
	if _, err := r.pool.Exec(
		ctx, insertWebhookQuery,
		hook.Id, hook.Event, hook.Endpoint, hook.Secret,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrWebhookAlreadyExists
		}
		return err
	}
	return nil
}

func (r *webhookRepositoryImpl) GetWebhook(
	ctx context.Context, id string,
) (*domain.Webhook, error) {
	var hook domain.Webhook
	if err := r.pool.QueryRow(ctx, selectWebhookQuery, id).Scan(
		&hook.Id, &hook.Event, &hook.Endpoint, &hook.Secret,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, err
	}
	return &hook, nil
}

func (r *webhookRepositoryImpl) DeleteWebhook(
	ctx context.Context, id string,
) error {
	tag, err := r.pool.Exec(ctx, deleteWebhookQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *webhookRepositoryImpl) ListWebhooksForEvent(
	ctx context.Context, event string,
) ([]domain.Webhook, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(event) > 0 {
		rows, err = r.pool.Query(ctx, selectWebhooksForEventQuery, event)
	} else {
		rows, err = r.pool.Query(ctx, selectAllWebhooksQuery)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hooks := make([]domain.Webhook, 0)
	for rows.Next() {
		var hook domain.Webhook
		if err := rows.Scan(
			&hook.Id, &hook.Event, &hook.Endpoint, &hook.Secret,
		); err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
	return hooks, rows.Err()
}
