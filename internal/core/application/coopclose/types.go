package coopclose

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

const (
	StateIdle State = iota
	StateRetrying
	StateSucceeded
	StateGaveUp
)

const (
	DefaultRetryInterval  = 60 * time.Second
	DefaultGiveUpInterval = 30 * time.Minute
)

// State is the state of a close campaign.
type State int

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateGaveUp:
		return "gave_up"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// TransferTracker mirrors the progress of a campaign into the transfer
// records linked to its channels.
type TransferTracker interface {
	// CloseAccepted is called once the node accepted the coop close of the
	// given channel.
	CloseAccepted(ctx context.Context, channelId string) error
	// CloseAbandoned is called for the channels a campaign stopped trying
	// to close, either because it gave up or because it was superseded.
	CloseAbandoned(ctx context.Context, channelIds []string) error
}

// EventPublisher notifies external listeners when a campaign gives up.
type EventPublisher interface {
	PublishCoopCloseGaveUpEvent(
		campaignId string, startedAt time.Time, channels []domain.ChannelInfo,
	) error
}

type Config struct {
	Lightning      ports.LightningSource
	Clock          clock.Clock
	RetryInterval  time.Duration
	GiveUpInterval time.Duration

	// Optional.
	Transfers        TransferTracker
	Publisher        EventPublisher
	OnClosingChanged func(closing []domain.ChannelInfo)
}

func (c Config) validate() error {
	if c.Lightning == nil {
		return ErrMissingLightningSource
	}
	if c.RetryInterval <= 0 {
		return ErrInvalidRetryInterval
	}
	if c.GiveUpInterval < c.RetryInterval {
		return ErrInvalidGiveUpInterval
	}
	return nil
}

// GiveUpEvent is emitted every time a campaign stops retrying some channels
// that are still open. StartedAt is when the oldest of them first joined a
// campaign.
type GiveUpEvent struct {
	CampaignId string
	StartedAt  time.Time
	GaveUpAt   time.Time
	Channels   []domain.ChannelInfo
}

// Status is a snapshot of the current campaign.
type Status struct {
	CampaignId string
	State      State
	StartedAt  time.Time
	Rounds     int
	// Working holds the channels that are still being retried.
	Working []domain.ChannelInfo
	// Accepted holds the channels whose close was accepted and that are still
	// listed by the node.
	Accepted []domain.ChannelInfo
}
