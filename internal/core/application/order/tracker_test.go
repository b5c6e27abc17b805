package order_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/order"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

const fundingTxid = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

var ctx = context.Background()

func TestNewTracker(t *testing.T) {
	tracker, err := order.NewTracker(nil)
	require.ErrorIs(t, err, order.ErrMissingOrderSource)
	require.Nil(t, tracker)
}

func TestTrackerLifecycle(t *testing.T) {
	source := &orderSourceMock{}
	source.On("OpenChannel", mock.Anything, "order-1").Return(nil).Once()
	tracker, err := order.NewTracker(source)
	require.NoError(t, err)

	err = tracker.Watch(domain.PendingOrder{
		Id: "order-1", State: domain.OrderStateCreated, ClientBalanceSat: 20_000,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"order-1"}, tracker.Ids())

	step, err := tracker.Step("order-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStepCreated, step)

	changed := tracker.Update(ctx, []domain.PendingOrder{
		{Id: "order-1", State: domain.OrderStatePaid},
		{Id: "unknown", State: domain.OrderStatePaid},
	})
	require.Len(t, changed, 1)
	step, _ = tracker.Step("order-1")
	require.Equal(t, domain.OrderStepPaid, step)

	// The channel open is requested only once.
	tracker.Update(ctx, []domain.PendingOrder{{Id: "order-1", State: domain.OrderStatePaid}})
	source.AssertNumberOfCalls(t, "OpenChannel", 1)

	// Regressions reported by the poller are discarded.
	changed = tracker.Update(ctx, []domain.PendingOrder{{Id: "order-1", State: domain.OrderStateCreated}})
	require.Empty(t, changed)
	step, _ = tracker.Step("order-1")
	require.Equal(t, domain.OrderStepPaid, step)

	changed = tracker.Update(ctx, []domain.PendingOrder{{
		Id: "order-1", State: domain.OrderStateExecuted, FundingTxid: fundingTxid,
	}})
	require.Len(t, changed, 1)
	step, _ = tracker.Step("order-1")
	require.Equal(t, domain.OrderStepChannelOpen, step)
	// Linkage is complete, no need to poll anymore.
	require.Empty(t, tracker.Ids())
	require.Len(t, tracker.Pending(), 1)
	require.Equal(t, uint64(20_000), tracker.Pending()[0].ClientBalanceSat)

	matched := tracker.Prune([]domain.ChannelInfo{{ChannelId: "chan-1", FundingTxid: fundingTxid}})
	require.Len(t, matched, 1)
	require.Equal(t, domain.MatchByFundingTxid, matched[0].Reason)
	require.Empty(t, tracker.Pending())

	_, err = tracker.Get("order-1")
	require.ErrorIs(t, err, order.ErrOrderNotTracked)
}

func TestTrackerKeepsOrdersMatchedByCounterparty(t *testing.T) {
	const lspNodeId = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

	source := &orderSourceMock{}
	tracker, err := order.NewTracker(source)
	require.NoError(t, err)

	require.NoError(t, tracker.Watch(domain.PendingOrder{
		Id: "order-1", State: domain.OrderStateCreated,
		ClientBalanceSat: 20_000, LspNodeId: lspNodeId,
	}))

	// An older channel with the same LSP is not proof the order was opened.
	oldChannel := domain.ChannelInfo{ChannelId: "chan-old", CounterpartyNodeId: lspNodeId}
	require.Empty(t, tracker.Prune([]domain.ChannelInfo{oldChannel}))
	require.Equal(t, []string{"order-1"}, tracker.Ids())
	require.Len(t, tracker.Pending(), 1)

	// The order is still polled, so its expiration is observed.
	tracker.Update(ctx, []domain.PendingOrder{{Id: "order-1", State: domain.OrderStateExpired}})
	require.True(t, tracker.IsExpired("order-1"))
	require.Empty(t, tracker.Ids())

	source.AssertNotCalled(t, "OpenChannel", mock.Anything, mock.Anything)
}

func TestTrackerPrunesOnceChannelIsLinked(t *testing.T) {
	const lspNodeId = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

	source := &orderSourceMock{}
	tracker, err := order.NewTracker(source)
	require.NoError(t, err)

	require.NoError(t, tracker.Watch(domain.PendingOrder{
		Id: "order-1", State: domain.OrderStateCreated, LspNodeId: lspNodeId,
	}))

	oldChannel := domain.ChannelInfo{ChannelId: "chan-old", CounterpartyNodeId: lspNodeId}
	newChannel := domain.ChannelInfo{
		ChannelId: "chan-new", CounterpartyNodeId: lspNodeId, UserChannelId: "order-1",
	}
	matched := tracker.Prune([]domain.ChannelInfo{oldChannel, newChannel})
	require.Len(t, matched, 1)
	require.Equal(t, domain.MatchByUserChannelId, matched[0].Reason)
	require.Equal(t, "chan-new", matched[0].Channel.ChannelId)
	require.Empty(t, tracker.Ids())
}

func TestTrackerRetriesFailedChannelOpen(t *testing.T) {
	source := &orderSourceMock{}
	source.On("OpenChannel", mock.Anything, "order-1").Return(fmt.Errorf("lsp unavailable")).Once()
	source.On("OpenChannel", mock.Anything, "order-1").Return(nil).Once()
	tracker, err := order.NewTracker(source)
	require.NoError(t, err)

	err = tracker.Watch(domain.PendingOrder{Id: "order-1", State: domain.OrderStatePaid})
	require.NoError(t, err)

	paid := []domain.PendingOrder{{Id: "order-1", State: domain.OrderStatePaid}}
	tracker.Update(ctx, paid)
	tracker.Update(ctx, paid)
	tracker.Update(ctx, paid)

	source.AssertNumberOfCalls(t, "OpenChannel", 2)
}

func TestTrackerDropsExpiredOrders(t *testing.T) {
	source := &orderSourceMock{}
	tracker, err := order.NewTracker(source)
	require.NoError(t, err)

	require.NoError(t, tracker.Watch(domain.PendingOrder{Id: "order-1", ClientBalanceSat: 1_000}))
	require.NoError(t, tracker.Watch(domain.PendingOrder{Id: "order-2", ClientBalanceSat: 2_000}))

	tracker.Update(ctx, []domain.PendingOrder{{Id: "order-1", State: domain.OrderStateExpired}})
	require.True(t, tracker.IsExpired("order-1"))
	require.Equal(t, []string{"order-2"}, tracker.Ids())

	// Expired orders are never resurrected.
	tracker.Update(ctx, []domain.PendingOrder{{Id: "order-1", State: domain.OrderStatePaid}})
	require.Len(t, tracker.Pending(), 1)
	err = tracker.Watch(domain.PendingOrder{Id: "order-1", State: domain.OrderStateCreated})
	require.ErrorIs(t, err, order.ErrOrderAlreadyExpired)

	source.AssertNotCalled(t, "OpenChannel", mock.Anything, mock.Anything)
}

func TestTrackerRefresh(t *testing.T) {
	source := &orderSourceMock{}
	source.On("ListOrders", mock.Anything, []string{"order-1"}).Return(
		[]domain.PendingOrder{{Id: "order-1", State: domain.OrderStateExecuted}}, nil,
	)
	tracker, err := order.NewTracker(source)
	require.NoError(t, err)

	changed, err := tracker.Refresh(ctx)
	require.NoError(t, err)
	require.Empty(t, changed)
	source.AssertNotCalled(t, "ListOrders", mock.Anything, mock.Anything)

	require.NoError(t, tracker.Watch(domain.PendingOrder{Id: "order-1"}))
	changed, err = tracker.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, domain.OrderStateExecuted, changed[0].State)
}

type orderSourceMock struct {
	mock.Mock
}

func (m *orderSourceMock) ListOrders(
	ctx context.Context, ids []string,
) ([]domain.PendingOrder, error) {
	args := m.Called(ctx, ids)
	var res []domain.PendingOrder
	if a := args.Get(0); a != nil {
		res = a.([]domain.PendingOrder)
	}
	return res, args.Error(1)
}

func (m *orderSourceMock) OpenChannel(ctx context.Context, orderId string) error {
	args := m.Called(ctx, orderId)
	return args.Error(0)
}
