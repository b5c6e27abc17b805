package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

// ErrInvalidTopic is returned when subscribing to an unknown topic.
var ErrInvalidTopic = errors.New("invalid webhook topic")

type Service struct {
	pubsub ports.PubSub
}

func NewService(pubsub ports.PubSub) *Service {
	return &Service{pubsub}
}

func (s *Service) AddWebhook(
	_ context.Context, topic, endpoint, secret string,
) (string, error) {
	if !isValidTopic(topic) {
		return "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return s.pubsub.Subscribe(topic, endpoint, secret)
}

func (s *Service) RemoveWebhook(_ context.Context, id string) error {
	return s.pubsub.Unsubscribe(id)
}

func (s *Service) ListWebhooks(
	_ context.Context, topic string,
) ([]ports.Subscription, error) {
	return s.pubsub.ListSubscriptionsForTopic(topic)
}

func (s *Service) PublishBalanceUpdatedEvent(state domain.BalanceState) error {
	event := ports.TopicBalanceUpdated
	payload := map[string]interface{}{
		"event":   event,
		"balance": getBalancePayload(state),
	}
	message, _ := json.Marshal(payload)

	return s.pubsub.Publish(event, string(message))
}

func (s *Service) PublishCoopCloseGaveUpEvent(
	campaignId string, startedAt time.Time, channels []domain.ChannelInfo,
) error {
	event := ports.TopicCoopCloseGaveUp
	channelIds := make([]string, 0, len(channels))
	var amount uint64
	for _, c := range channels {
		channelIds = append(channelIds, c.ChannelId)
		amount += c.OutboundCapacitySats()
	}
	payload := map[string]interface{}{
		"event":          event,
		"campaign_id":    campaignId,
		"started_at":     startedAt.Unix(),
		"started_date":   startedAt.Format(time.RFC3339),
		"channel_ids":    channelIds,
		"amount_sats":    amount,
		"amount":         btcutil.Amount(amount).String(),
		"needs_fallback": "force_close",
	}
	message, _ := json.Marshal(payload)

	return s.pubsub.Publish(event, string(message))
}

func (s *Service) PublishTransferSettledEvent(transfer domain.Transfer) error {
	event := ports.TopicTransferSettled
	payload := map[string]interface{}{
		"event":                event,
		"transfer_id":          transfer.Id,
		"direction":            transfer.Direction.String(),
		"amount_sats":          transfer.AmountSats,
		"channel_id":           transfer.ChannelId,
		"lsp_order_id":         transfer.LspOrderId,
		"settlement_timestamp": transfer.SettledAt,
		"settlement_date":      time.Unix(transfer.SettledAt, 0).Format(time.RFC3339),
	}
	message, _ := json.Marshal(payload)

	return s.pubsub.Publish(event, string(message))
}

func getBalancePayload(state domain.BalanceState) map[string]uint64 {
	return map[string]uint64{
		"total_onchain_sats":              state.TotalOnchainSats,
		"spendable_onchain_sats":          state.SpendableOnchainSats,
		"total_lightning_sats":            state.TotalLightningSats,
		"total_balance_sats":              state.TotalBalanceSats,
		"balance_in_transfer_to_savings":  state.BalanceInTransferToSavings,
		"balance_in_transfer_to_spending": state.BalanceInTransferToSpending,
		"max_send_lightning_sats":         state.MaxSendLightningSats,
	}
}

func isValidTopic(topic string) bool {
	for _, t := range ports.Topics() {
		if t == topic {
			return true
		}
	}
	return false
}
