package application

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/balance"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/coopclose"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/order"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/transfer"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/watcher"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

const pruneInterval = time.Hour

// Engine glues the pollers to the reconciler, the coop close coordinator,
// the order tracker and the transfer bookkeeping. Every snapshot emitted by
// the watcher is dispatched, in order, by a single goroutine.
type Engine struct {
	balance   *balance.Service
	coopclose *coopclose.Service
	orders    *order.Tracker
	transfers *transfer.Service
	watcher   *watcher.Service

	settledRetention time.Duration

	lock     *sync.RWMutex
	channels []domain.ChannelInfo

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

func NewEngine(
	balanceSvc *balance.Service,
	coopcloseSvc *coopclose.Service,
	orderTracker *order.Tracker,
	transferSvc *transfer.Service,
	watcherSvc *watcher.Service,
	settledRetention time.Duration,
) (*Engine, error) {
	if balanceSvc == nil || coopcloseSvc == nil || orderTracker == nil ||
		transferSvc == nil || watcherSvc == nil {
		return nil, ErrMissingEngineService
	}
	return &Engine{
		balance:          balanceSvc,
		coopclose:        coopcloseSvc,
		orders:           orderTracker,
		transfers:        transferSvc,
		watcher:          watcherSvc,
		settledRetention: settledRetention,
		lock:             &sync.RWMutex{},
		channels:         make([]domain.ChannelInfo, 0),
		wg:               &sync.WaitGroup{},
	}, nil
}

// Start takes a first snapshot of every source, resumes the transfers left
// in progress and starts polling.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	for _, event := range e.watcher.Refresh(e.ctx) {
		e.handle(e.ctx, event)
	}

	if err := e.resume(e.ctx); err != nil {
		e.cancel()
		return err
	}

	if err := e.watcher.Start(e.ctx); err != nil {
		e.cancel()
		return err
	}

	e.wg.Add(2)
	go e.dispatch()
	go e.housekeeping()

	log.Info("balance engine started")
	return nil
}

// Stop halts polling and the running campaign. Campaigns are resumed from
// the transfer records on next Start.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.watcher.Stop()
	e.coopclose.Stop()
	e.cancel()
	e.wg.Wait()
	e.balance.Close()

	log.Info("balance engine stopped")
}

// Balance returns the latest derived balance.
func (e *Engine) Balance() domain.BalanceState {
	return e.balance.Current()
}

// SubscribeBalance returns a channel receiving every new balance. A slow
// reader only misses intermediate values.
func (e *Engine) SubscribeBalance() <-chan domain.BalanceState {
	return e.balance.Subscribe()
}

func (e *Engine) UnsubscribeBalance(ch <-chan domain.BalanceState) {
	e.balance.Unsubscribe(ch)
}

// TransferToSavings records the transfers and starts a coop close campaign
// for the given channels, or for every open channel with some local
// balance if none is given.
func (e *Engine) TransferToSavings(
	ctx context.Context, channelIds []string,
) (domain.TransferIntent, error) {
	channels, err := e.selectChannels(channelIds)
	if err != nil {
		return domain.TransferIntent{}, err
	}

	intent, err := e.transfers.BeginToSavings(ctx, channels)
	if err != nil {
		return domain.TransferIntent{}, err
	}

	campaignCtx := e.ctx
	if campaignCtx == nil {
		campaignCtx = context.Background()
	}
	// A running campaign is superseded, its channels join the new one and
	// keep their own give up deadlines.
	toClose := intent.ChannelsInvolved
	if status := e.coopclose.Status(); status.State == coopclose.StateRetrying {
		toClose = append(status.Working, toClose...)
	}
	campaignId, err := e.coopclose.Start(campaignCtx, toClose)
	if err != nil {
		return domain.TransferIntent{}, err
	}

	log.WithFields(log.Fields{
		"campaign": campaignId,
		"amount":   intent.AmountSats,
	}).Info("transfer to savings started")
	return intent, nil
}

// TransferToSpending starts tracking the given paid-for channel order and
// records its transfer.
func (e *Engine) TransferToSpending(
	ctx context.Context, o domain.PendingOrder,
) (domain.TransferIntent, error) {
	if err := e.orders.Watch(o); err != nil {
		return domain.TransferIntent{}, err
	}

	intent, err := e.transfers.BeginToSpending(ctx, o)
	if err != nil {
		e.orders.Forget(o.Id)
		return domain.TransferIntent{}, err
	}

	e.balance.UpdateOrders(e.orders.Pending())

	log.WithFields(log.Fields{
		"order":  o.Id,
		"amount": intent.AmountSats,
	}).Info("transfer to spending started")
	return intent, nil
}

func (e *Engine) CampaignStatus() coopclose.Status {
	return e.coopclose.Status()
}

// NeedsForceClose returns the channels a campaign gave up closing.
func (e *Engine) NeedsForceClose() []domain.ChannelInfo {
	return e.coopclose.NeedsForceClose()
}

func (e *Engine) ListTransfers(
	ctx context.Context, activeOnly bool,
) ([]domain.Transfer, error) {
	if activeOnly {
		return e.transfers.ListActive(ctx)
	}
	return e.transfers.ListAll(ctx)
}

func (e *Engine) GetTransfer(
	ctx context.Context, id string,
) (*domain.Transfer, error) {
	return e.transfers.GetTransfer(ctx, id)
}

// OrderStep returns the lifecycle step of a tracked order.
func (e *Engine) OrderStep(id string) (int, error) {
	return e.orders.Step(id)
}

func (e *Engine) Channels() []domain.ChannelInfo {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return append([]domain.ChannelInfo(nil), e.channels...)
}

func (e *Engine) dispatch() {
	defer e.wg.Done()

	giveUps := e.coopclose.GiveUps()
	for {
		select {
		case event, ok := <-e.watcher.Events():
			if !ok {
				return
			}
			e.handle(e.ctx, event)
		case ev := <-giveUps:
			ids := make([]string, 0, len(ev.Channels))
			for _, c := range ev.Channels {
				ids = append(ids, c.ChannelId)
			}
			log.WithFields(log.Fields{
				"campaign": ev.CampaignId,
				"channels": ids,
			}).Warn("coop close gave up, channels need a force close")
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) housekeeping() {
	defer e.wg.Done()

	if e.settledRetention <= 0 {
		return
	}

	t := ticker.New(pruneInterval)
	t.Resume()
	defer t.Stop()

	e.pruneSettled()
	for {
		select {
		case <-t.Ticks():
			e.pruneSettled()
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) pruneSettled() {
	before := time.Now().Add(-e.settledRetention)
	if _, err := e.transfers.PruneSettled(e.ctx, before); err != nil {
		log.WithError(err).Warn("failed to prune settled transfers")
	}
}

func (e *Engine) handle(ctx context.Context, event watcher.Event) {
	switch ev := event.(type) {
	case watcher.OnchainEvent:
		e.balance.UpdateOnchain(ev.State)

	case watcher.ChannelsEvent:
		e.onChannels(ctx, ev.Channels)

	case watcher.OrdersEvent:
		e.onOrders(ctx, ev.Orders)

	default:
		log.Warnf("unknown event type %T", event)
	}
}

func (e *Engine) onChannels(ctx context.Context, channels []domain.ChannelInfo) {
	e.lock.Lock()
	e.channels = append([]domain.ChannelInfo(nil), channels...)
	e.lock.Unlock()

	orders := e.orders.Pending()
	for _, m := range e.orders.Prune(channels) {
		orders = append(orders, m.Order)
		log.WithFields(log.Fields{
			"order":   m.Order.Id,
			"channel": m.Channel.ChannelId,
			"reason":  m.Reason,
		}).Info("order materialized as channel")
	}

	// The new channel list and the orders it subsumes go in together, then
	// the closing set is pruned of the channels that are gone.
	e.balance.UpdateChannelsAndOrders(channels, e.orders.Pending())
	e.coopclose.SyncLiveChannels(channels)

	e.syncTransfers(ctx, channels, orders)
}

func (e *Engine) onOrders(ctx context.Context, polled []domain.PendingOrder) {
	for _, o := range e.orders.Update(ctx, polled) {
		if !o.IsExpired() {
			continue
		}
		if err := e.transfers.OrderExpired(ctx, o.Id); err != nil {
			log.WithError(err).WithField("order", o.Id).Warn(
				"failed to give up transfer of expired order",
			)
		}
	}

	pending := e.orders.Pending()
	e.syncTransfers(ctx, e.Channels(), pending)
	e.balance.UpdateOrders(pending)
}

func (e *Engine) syncTransfers(
	ctx context.Context,
	channels []domain.ChannelInfo, orders []domain.PendingOrder,
) {
	if _, err := e.transfers.SyncTransferStates(ctx, channels, orders); err != nil {
		log.WithError(err).Warn("failed to sync transfers")
	}
}

// resume restarts the campaign for the channels whose close was never
// accepted, restores those waiting for the close tx to confirm and goes
// back to tracking the orders of the unsettled transfers to spending.
func (e *Engine) resume(ctx context.Context) error {
	active, err := e.transfers.ListActive(ctx)
	if err != nil {
		return err
	}

	live := e.Channels()
	toClose := make([]domain.ChannelInfo, 0)
	closing := make([]domain.ChannelInfo, 0)
	for _, t := range active {
		switch t.Direction {
		case domain.TransferToSavings:
			channel, ok := findChannel(live, t.ChannelId)
			if !ok {
				continue
			}
			if t.Status == domain.TransferStatusAwaitingConfirmation {
				closing = append(closing, channel)
				continue
			}
			toClose = append(toClose, channel)

		case domain.TransferToSpending:
			if err := e.orders.Watch(domain.PendingOrder{
				Id:               t.LspOrderId,
				State:            domain.OrderStateCreated,
				ClientBalanceSat: t.AmountSats,
				FundingTxid:      t.FundingTxid,
				CreatedAt:        t.CreatedAt,
			}); err != nil {
				log.WithError(err).WithField("order", t.LspOrderId).Debug(
					"order not resumed",
				)
			}
		}
	}

	e.coopclose.RestoreAccepted(closing)
	if len(toClose) > 0 {
		if _, err := e.coopclose.Start(ctx, toClose); err != nil {
			return err
		}
	}

	e.syncTransfers(ctx, live, e.orders.Pending())
	e.balance.UpdateOrders(e.orders.Pending())
	if len(active) > 0 {
		log.Infof("resumed %d active transfer(s)", len(active))
	}
	return nil
}

func (e *Engine) selectChannels(ids []string) ([]domain.ChannelInfo, error) {
	live := e.Channels()
	if len(ids) <= 0 {
		channels := make([]domain.ChannelInfo, 0, len(live))
		for _, c := range live {
			if c.OutboundCapacitySats() > 0 {
				channels = append(channels, c)
			}
		}
		return channels, nil
	}

	channels := make([]domain.ChannelInfo, 0, len(ids))
	for _, id := range ids {
		channel, ok := findChannel(live, id)
		if !ok {
			return nil, ErrChannelNotFound
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

func findChannel(channels []domain.ChannelInfo, id string) (domain.ChannelInfo, bool) {
	for _, c := range channels {
		if c.ChannelId == id {
			return c, true
		}
	}
	return domain.ChannelInfo{}, false
}
