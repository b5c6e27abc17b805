package pubsub

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
	"github.com/synonymdev/bitkit-balanced/pkg/circuitbreaker"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRequestTimeout = 15 * time.Second
	tokenTTL              = time.Minute
)

type service struct {
	repo       domain.WebhookRepository
	httpClient *client
	cb         *gobreaker.CircuitBreaker
}

// NewService returns a webhook based pubsub whose subscriptions are stored
// in the given repository.
func NewService(repo domain.WebhookRepository) (ports.PubSub, error) {
	if repo == nil {
		return nil, fmt.Errorf("missing webhook repository")
	}

	return &service{
		repo:       repo,
		httpClient: newHTTPClient(defaultRequestTimeout),
		cb:         circuitbreaker.NewCircuitBreaker("webhooks"),
	}, nil
}

func (ws *service) Subscribe(topic, endpoint, secret string) (string, error) {
	hook, err := domain.NewWebhook(topic, endpoint, secret)
	if err != nil {
		return "", err
	}

	if err := ws.repo.AddWebhook(context.Background(), *hook); err != nil {
		return "", err
	}
	return hook.Id, nil
}

func (ws *service) Unsubscribe(id string) error {
	return ws.repo.DeleteWebhook(context.Background(), id)
}

func (ws *service) ListSubscriptionsForTopic(
	topic string,
) ([]ports.Subscription, error) {
	subs, err := ws.listSubscriptionsForTopic(topic)
	if err != nil {
		return nil, err
	}
	return subs.toPortable(), nil
}

func (ws *service) Publish(topic string, message string) error {
	return ws.publishForTopic(topic, message)
}

func (ws *service) listSubscriptionsForTopic(topic string) (subscriptions, error) {
	ctx := context.Background()
	hooks, err := ws.repo.ListWebhooksForEvent(ctx, topic)
	if err != nil {
		return nil, err
	}
	if topic != ports.AnyTopic && topic != ports.UnspecifiedTopic {
		hooksForAnyTopic, err := ws.repo.ListWebhooksForEvent(ctx, ports.AnyTopic)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hooksForAnyTopic...)
	}

	subs := make(subscriptions, 0, len(hooks))
	for _, h := range hooks {
		subs = append(subs, subscription{h})
	}
	return subs, nil
}

func (ws *service) publishForTopic(topic, message string) error {
	subs, err := ws.listSubscriptionsForTopic(topic)
	if err != nil {
		return err
	}

	eg := &errgroup.Group{}
	for i := range subs {
		sub := subs[i]
		eg.Go(func() error {
			if err := ws.doRequest(sub, message); err != nil {
				log.WithError(err).Warnf(
					"pubsub: failed to notify %s for topic %s", sub.Endpoint, topic,
				)
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

func (ws *service) doRequest(sub subscription, payload string) error {
	_, err := ws.cb.Execute(func() (interface{}, error) {
		headers := map[string]string{
			"Content-Type": "application/json",
		}
		if sub.IsSecured() {
			tokenString, err := signToken(sub.Secret)
			if err != nil {
				return nil, err
			}
			headers["Authorization"] = fmt.Sprintf("Bearer %s", tokenString)
		}

		status, resp, err := ws.httpClient.post(sub.Endpoint, payload, headers)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("webhook responded with status %d: %s", status, resp)
		}
		return nil, nil
	})

	return err
}

func signToken(secret string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(tokenTTL).Unix(),
	})
	return token.SignedString([]byte(secret))
}
