package order

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

// Tracker follows the lifecycle of the channel purchase orders placed with
// the LSP until their channel shows up in the node. Expired orders are
// dropped for good.
type Tracker struct {
	source ports.OrderSource

	lock    *sync.RWMutex
	orders  map[string]*trackedOrder
	ids     []string
	expired map[string]struct{}
}

type trackedOrder struct {
	domain.PendingOrder
	openRequested bool
}

func NewTracker(source ports.OrderSource) (*Tracker, error) {
	if source == nil {
		return nil, ErrMissingOrderSource
	}
	return &Tracker{
		source:  source,
		lock:    &sync.RWMutex{},
		orders:  make(map[string]*trackedOrder),
		ids:     make([]string, 0),
		expired: make(map[string]struct{}),
	}, nil
}

// Watch starts tracking the given order. Watching an already tracked order
// merges in the given info.
func (t *Tracker) Watch(order domain.PendingOrder) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.expired[order.Id]; ok {
		return ErrOrderAlreadyExpired
	}
	if order.IsExpired() {
		t.expired[order.Id] = struct{}{}
		return ErrOrderAlreadyExpired
	}

	if tracked, ok := t.orders[order.Id]; ok {
		if _, err := tracked.Merge(order); err != nil {
			log.WithError(err).WithField("order", order.Id).Debug("ignored stale order info")
		}
		return nil
	}

	t.orders[order.Id] = &trackedOrder{PendingOrder: order}
	t.ids = append(t.ids, order.Id)

	log.WithField("order", order.Id).Debug("watching order")
	return nil
}

// Update applies the polled state of the tracked orders. Unknown orders are
// ignored and regressions are discarded. The first time an order is seen
// Paid the LSP is asked to open its channel; a failed request is retried on
// the next update. It returns the orders that changed.
func (t *Tracker) Update(
	ctx context.Context, polled []domain.PendingOrder,
) []domain.PendingOrder {
	changed := make([]domain.PendingOrder, 0)
	toOpen := make([]string, 0)

	t.lock.Lock()
	for _, p := range domain.DedupeOrders(polled) {
		tracked, ok := t.orders[p.Id]
		if !ok {
			continue
		}

		updated, err := tracked.Merge(p)
		if err != nil {
			log.WithError(err).WithField("order", p.Id).Debug("ignored order update")
		}
		if updated {
			changed = append(changed, tracked.PendingOrder)
			log.WithFields(log.Fields{
				"order": p.Id,
				"state": tracked.State,
				"step":  tracked.Step(),
			}).Info("order updated")
		}

		if tracked.IsExpired() {
			t.drop(p.Id)
			t.expired[p.Id] = struct{}{}
			log.WithField("order", p.Id).Info("order expired, stop tracking")
			continue
		}

		if tracked.State == domain.OrderStatePaid &&
			len(tracked.FundingTxid) <= 0 && !tracked.openRequested {
			toOpen = append(toOpen, p.Id)
		}
	}
	t.lock.Unlock()

	for _, id := range toOpen {
		t.openChannel(ctx, id)
	}
	return changed
}

// Refresh polls the source for the orders still in progress and applies
// their state.
func (t *Tracker) Refresh(ctx context.Context) ([]domain.PendingOrder, error) {
	ids := t.Ids()
	if len(ids) <= 0 {
		return nil, nil
	}
	polled, err := t.source.ListOrders(ctx, ids)
	if err != nil {
		return nil, err
	}
	return t.Update(ctx, polled), nil
}

// Ids returns the ids of the orders that still need polling, those whose
// channel was not broadcast yet.
func (t *Tracker) Ids() []string {
	t.lock.RLock()
	defer t.lock.RUnlock()

	ids := make([]string, 0, len(t.ids))
	for _, id := range t.ids {
		if t.orders[id].Step() < domain.OrderStepChannelOpen {
			ids = append(ids, id)
		}
	}
	return ids
}

// Pending returns all tracked orders, in the order they were first watched.
func (t *Tracker) Pending() []domain.PendingOrder {
	t.lock.RLock()
	defer t.lock.RUnlock()

	orders := make([]domain.PendingOrder, 0, len(t.ids))
	for _, id := range t.ids {
		orders = append(orders, t.orders[id].PendingOrder)
	}
	return orders
}

// Get returns the tracked order with the given id.
func (t *Tracker) Get(id string) (domain.PendingOrder, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	tracked, ok := t.orders[id]
	if !ok {
		return domain.PendingOrder{}, ErrOrderNotTracked
	}
	return tracked.PendingOrder, nil
}

// Step returns the lifecycle step of the given order.
func (t *Tracker) Step(id string) (int, error) {
	order, err := t.Get(id)
	if err != nil {
		return -1, err
	}
	return order.Step(), nil
}

// IsExpired returns whether the order was seen expiring.
func (t *Tracker) IsExpired(id string) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	_, ok := t.expired[id]
	return ok
}

// Forget stops tracking the given order.
func (t *Tracker) Forget(id string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.drop(id)
}

// Prune stops tracking the orders already materialized as one of the given
// live channels, and returns them. Orders only matched by counterparty stay
// tracked: a channel with the same LSP may well be an older one, so they are
// matched again on every pass and keep being polled until they expire or a
// channel links to them.
func (t *Tracker) Prune(channels []domain.ChannelInfo) []domain.OrderMatch {
	result := domain.MatchOrders(t.Pending(), channels)
	matched := make([]domain.OrderMatch, 0, len(result.Matched))
	for _, m := range result.Matched {
		if m.Reason < domain.MatchByCounterparty {
			matched = append(matched, m)
		}
	}
	if len(matched) <= 0 {
		return nil
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	for _, m := range matched {
		t.drop(m.Order.Id)
		log.WithFields(log.Fields{
			"order":   m.Order.Id,
			"channel": m.Channel.ChannelId,
			"match":   m.Reason.String(),
		}).Info("order channel is open, stop tracking")
	}
	return matched
}

func (t *Tracker) openChannel(ctx context.Context, id string) {
	if err := t.source.OpenChannel(ctx, id); err != nil {
		log.WithError(err).WithField("order", id).Warn(
			"failed to request channel open, retrying on next update",
		)
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if tracked, ok := t.orders[id]; ok {
		tracked.openRequested = true
	}
	log.WithField("order", id).Info("requested channel open")
}

func (t *Tracker) drop(id string) {
	if _, ok := t.orders[id]; !ok {
		return
	}
	delete(t.orders, id)
	for i, v := range t.ids {
		if v == id {
			t.ids = append(t.ids[:i], t.ids[i+1:]...)
			break
		}
	}
}
