package watcher

import (
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

const (
	DefaultOnchainInterval  = 10 * time.Second
	DefaultChannelsInterval = 5 * time.Second
	DefaultOrdersInterval   = 2500 * time.Millisecond

	eventBufferSize = 16
)

// EventType tells which source produced an event.
type EventType int

const (
	EventTypeOnchain EventType = iota
	EventTypeChannels
	EventTypeOrders
)

func (t EventType) String() string {
	switch t {
	case EventTypeOnchain:
		return "onchain"
	case EventTypeChannels:
		return "channels"
	case EventTypeOrders:
		return "orders"
	default:
		return "unknown"
	}
}

// Event is a fresh snapshot fetched by one of the pollers.
type Event interface {
	Type() EventType
}

type OnchainEvent struct {
	State domain.OnchainState
}

func (OnchainEvent) Type() EventType { return EventTypeOnchain }

type ChannelsEvent struct {
	Channels []domain.ChannelInfo
}

func (ChannelsEvent) Type() EventType { return EventTypeChannels }

type OrdersEvent struct {
	Orders []domain.PendingOrder
}

func (OrdersEvent) Type() EventType { return EventTypeOrders }

// Config holds the sources to poll and how often. OrderIds returns the ids
// of the orders still worth polling; the orders poller idles while it's
// empty.
type Config struct {
	Onchain   ports.OnchainSource
	Lightning ports.LightningSource
	Orders    ports.OrderSource
	OrderIds  func() []string

	OnchainInterval  time.Duration
	ChannelsInterval time.Duration
	OrdersInterval   time.Duration

	// NewTicker defaults to ticker.New.
	NewTicker func(time.Duration) ticker.Ticker
}

func (c *Config) validate() error {
	if c.Onchain == nil && c.Lightning == nil && c.Orders == nil {
		return ErrNoSources
	}
	if c.Orders != nil && c.OrderIds == nil {
		return ErrMissingOrderIds
	}
	if c.OnchainInterval < 0 || c.ChannelsInterval < 0 || c.OrdersInterval < 0 {
		return ErrInvalidInterval
	}
	return nil
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.OnchainInterval == 0 {
		cfg.OnchainInterval = DefaultOnchainInterval
	}
	if cfg.ChannelsInterval == 0 {
		cfg.ChannelsInterval = DefaultChannelsInterval
	}
	if cfg.OrdersInterval == 0 {
		cfg.OrdersInterval = DefaultOrdersInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) ticker.Ticker {
			return ticker.New(d)
		}
	}
	return cfg
}
