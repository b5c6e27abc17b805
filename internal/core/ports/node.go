package ports

import (
	"context"

	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

// OnchainSource returns the latest snapshot of the on-chain wallet.
type OnchainSource interface {
	GetOnchainState(ctx context.Context) (domain.OnchainState, error)
}

// LightningSource gives access to the channels of the Lightning node.
type LightningSource interface {
	// ListChannels returns all channels currently known to the node,
	// including those not yet ready.
	ListChannels(ctx context.Context) ([]domain.ChannelInfo, error)
	// CloseChannel requests the cooperative close of the given channel. A nil
	// error means the node accepted the request, not that the closing tx
	// confirmed.
	CloseChannel(ctx context.Context, channel domain.ChannelInfo) error
}

// OrderSource gives access to the channel purchase orders placed with the
// LSP.
type OrderSource interface {
	// ListOrders returns the current state of the orders with the given ids.
	ListOrders(ctx context.Context, ids []string) ([]domain.PendingOrder, error)
	// OpenChannel asks the LSP to open the channel of a paid order.
	OpenChannel(ctx context.Context, orderId string) error
}

// NodeSource groups the sources backed by the same node.
type NodeSource interface {
	OnchainSource
	LightningSource
	OrderSource
}
