package domain

import "fmt"

const (
	OrderStateCreated OrderState = iota
	OrderStatePaid
	OrderStateExecuted
	OrderStateExpired
)

const (
	// OrderStepCreated to OrderStepChannelOpen are the lifecycle steps shown
	// while an order is being fulfilled.
	OrderStepCreated = iota
	OrderStepPaid
	OrderStepExecuted
	OrderStepChannelOpen
)

// OrderState is the lifecycle state of a channel purchase order.
type OrderState int

func (s OrderState) String() string {
	switch s {
	case OrderStateCreated:
		return "created"
	case OrderStatePaid:
		return "paid"
	case OrderStateExecuted:
		return "executed"
	case OrderStateExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal returns whether no further transition is possible.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateExpired
}

// PendingOrder is an in-flight channel purchase order that is not yet a
// channel.
type PendingOrder struct {
	Id               string
	State            OrderState
	ClientBalanceSat uint64
	LspBalanceSat    uint64
	// LspNodeId is the node the channel will be opened with.
	LspNodeId string
	// FundingTxid and ShortChannelId are set by the LSP once the channel
	// open is broadcast and confirmed respectively.
	FundingTxid    string
	ShortChannelId uint64
	CreatedAt      int64
}

// Advance brings the order to the given state. States move monotonically
// Created -> Paid -> Executed, and any non terminal state may expire.
// It returns whether the order changed.
func (o *PendingOrder) Advance(state OrderState) (bool, error) {
	if o.State == state {
		return false, nil
	}
	if o.State.IsTerminal() {
		return false, ErrOrderExpired
	}
	if state < o.State {
		return false, ErrOrderStateRegression
	}
	if state > OrderStateExpired {
		return false, ErrOrderUnknownState
	}

	o.State = state
	return true, nil
}

// Merge folds a freshly polled copy of the order into this one. Linkage
// fields are only ever filled in, never cleared, and the state only moves
// forward. It returns whether anything changed.
func (o *PendingOrder) Merge(polled PendingOrder) (bool, error) {
	if polled.Id != o.Id {
		return false, ErrOrderIdMismatch
	}

	changed := false
	if len(o.FundingTxid) <= 0 && len(polled.FundingTxid) > 0 {
		o.FundingTxid = polled.FundingTxid
		changed = true
	}
	if o.ShortChannelId == 0 && polled.ShortChannelId != 0 {
		o.ShortChannelId = polled.ShortChannelId
		changed = true
	}
	if len(o.LspNodeId) <= 0 && len(polled.LspNodeId) > 0 {
		o.LspNodeId = polled.LspNodeId
		changed = true
	}

	advanced, err := o.Advance(polled.State)
	if err != nil {
		return changed, err
	}
	return changed || advanced, nil
}

// IsExpired ...
func (o PendingOrder) IsExpired() bool {
	return o.State == OrderStateExpired
}

// Step returns the lifecycle step of the order. An order whose channel has
// been broadcast is at the last step regardless of its reported state.
func (o PendingOrder) Step() int {
	if len(o.FundingTxid) > 0 {
		return OrderStepChannelOpen
	}
	switch o.State {
	case OrderStatePaid:
		return OrderStepPaid
	case OrderStateExecuted:
		return OrderStepExecuted
	default:
		return OrderStepCreated
	}
}

// DedupeOrders collapses orders sharing the same id into one, keeping the
// copy with the most advanced state. Expired outranks every other state so
// that an expired order is never brought back by a stale poll. The relative
// order of first appearance is preserved.
func DedupeOrders(orders []PendingOrder) []PendingOrder {
	index := make(map[string]int, len(orders))
	result := make([]PendingOrder, 0, len(orders))
	for _, o := range orders {
		i, ok := index[o.Id]
		if !ok {
			index[o.Id] = len(result)
			result = append(result, o)
			continue
		}
		if o.State > result[i].State {
			result[i] = o
		}
	}
	return result
}
