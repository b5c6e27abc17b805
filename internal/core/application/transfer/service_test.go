package transfer_test

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/transfer"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/storage/db/inmemory"
)

const fundingTxid = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

var ctx = context.Background()

type publisherMock struct {
	settled chan domain.Transfer
}

func newPublisherMock() *publisherMock {
	return &publisherMock{make(chan domain.Transfer, 10)}
}

func (p *publisherMock) PublishTransferSettledEvent(t domain.Transfer) error {
	p.settled <- t
	return nil
}

func (p *publisherMock) waitSettled(t *testing.T) domain.Transfer {
	t.Helper()
	select {
	case tr := <-p.settled:
		return tr
	case <-time.After(time.Second):
		t.Fatal("settled event not published")
		return domain.Transfer{}
	}
}

func newChannel(id string, outboundSats uint64) domain.ChannelInfo {
	return domain.ChannelInfo{
		ChannelId:            id,
		OutboundCapacityMsat: lnwire.NewMSatFromSatoshis(btcutil.Amount(outboundSats)),
		IsChannelReady:       true,
		IsUsable:             true,
	}
}

func newService(t *testing.T) (*transfer.Service, *publisherMock) {
	t.Helper()
	publisher := newPublisherMock()
	svc, err := transfer.NewService(
		inmemory.NewRepoManager().TransferRepository(), publisher,
	)
	require.NoError(t, err)
	return svc, publisher
}

func TestNewService(t *testing.T) {
	svc, err := transfer.NewService(nil, nil)
	require.ErrorIs(t, err, transfer.ErrMissingRepository)
	require.Nil(t, svc)
}

func TestTransferToSavings(t *testing.T) {
	svc, publisher := newService(t)

	channels := []domain.ChannelInfo{
		newChannel("chan-1", 30_000),
		newChannel("chan-2", 20_000),
		newChannel("empty", 0),
	}

	intent, err := svc.BeginToSavings(ctx, channels)
	require.NoError(t, err)
	require.Equal(t, domain.TransferToSavings, intent.Direction)
	require.Equal(t, uint64(50_000), intent.AmountSats)
	require.Len(t, intent.TransferIds, 2)
	require.Len(t, intent.ChannelsInvolved, 2)
	require.Equal(t, domain.TransferStatusAwaitingChannelClose, intent.Status)

	// Beginning again reuses the active transfers.
	again, err := svc.BeginToSavings(ctx, channels[:1])
	require.NoError(t, err)
	require.Equal(t, intent.TransferIds[:1], again.TransferIds)

	require.NoError(t, svc.CloseAccepted(ctx, "chan-1"))
	require.NoError(t, svc.CloseAbandoned(ctx, []string{"chan-1", "chan-2"}))

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "chan-1", active[0].ChannelId)
	require.Equal(t, domain.TransferStatusAwaitingConfirmation, active[0].Status)

	// Still listed by the node: nothing settles.
	settled, err := svc.SyncTransferStates(ctx, channels, nil)
	require.NoError(t, err)
	require.Empty(t, settled)

	settled, err = svc.SyncTransferStates(ctx, channels[1:], nil)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	require.Equal(t, domain.TransferStatusSettled, settled[0].Status)
	require.NotZero(t, settled[0].SettledAt)
	require.Equal(t, settled[0].Id, publisher.waitSettled(t).Id)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	statuses := make([]domain.TransferStatus, 0, len(all))
	for _, tr := range all {
		statuses = append(statuses, tr.Status)
	}
	require.ElementsMatch(t, []domain.TransferStatus{
		domain.TransferStatusSettled, domain.TransferStatusGaveUp,
	}, statuses)
}

func TestTransferToSavingsNothingToTransfer(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.BeginToSavings(ctx, []domain.ChannelInfo{newChannel("empty", 0)})
	require.ErrorIs(t, err, transfer.ErrNothingToTransfer)

	_, err = svc.BeginToSavings(ctx, nil)
	require.ErrorIs(t, err, transfer.ErrNothingToTransfer)
}

func TestTransferToSpending(t *testing.T) {
	t.Run("resolved_by_order_funding_txid", func(t *testing.T) {
		svc, publisher := newService(t)
		order := domain.PendingOrder{Id: "order-1", ClientBalanceSat: 25_000}

		intent, err := svc.BeginToSpending(ctx, order)
		require.NoError(t, err)
		require.Equal(t, uint64(25_000), intent.AmountSats)
		require.Equal(t, domain.TransferStatusInitiated, intent.Status)

		again, err := svc.BeginToSpending(ctx, order)
		require.NoError(t, err)
		require.Equal(t, intent.TransferIds, again.TransferIds)

		// The order learns its funding tx before the channel shows up.
		order.FundingTxid = fundingTxid
		settled, err := svc.SyncTransferStates(ctx, nil, []domain.PendingOrder{order})
		require.NoError(t, err)
		require.Empty(t, settled)

		stored, err := svc.GetTransfer(ctx, intent.TransferIds[0])
		require.NoError(t, err)
		require.Equal(t, fundingTxid, stored.FundingTxid)

		channel := newChannel("chan-1", 25_000)
		channel.FundingTxid = fundingTxid
		channel.IsUsable = false

		settled, err = svc.SyncTransferStates(ctx, []domain.ChannelInfo{channel}, nil)
		require.NoError(t, err)
		require.Empty(t, settled)

		stored, err = svc.GetTransfer(ctx, intent.TransferIds[0])
		require.NoError(t, err)
		require.Equal(t, domain.TransferStatusAwaitingConfirmation, stored.Status)
		require.Equal(t, "chan-1", stored.ChannelId)

		channel.IsUsable = true
		settled, err = svc.SyncTransferStates(ctx, []domain.ChannelInfo{channel}, nil)
		require.NoError(t, err)
		require.Len(t, settled, 1)
		require.Equal(t, intent.TransferIds[0], publisher.waitSettled(t).Id)
	})

	t.Run("resolved_by_user_channel_id", func(t *testing.T) {
		svc, _ := newService(t)
		order := domain.PendingOrder{Id: "order-2", ClientBalanceSat: 10_000}

		_, err := svc.BeginToSpending(ctx, order)
		require.NoError(t, err)

		channel := newChannel("chan-2", 10_000)
		channel.UserChannelId = "order-2"

		settled, err := svc.SyncTransferStates(ctx, []domain.ChannelInfo{channel}, nil)
		require.NoError(t, err)
		require.Len(t, settled, 1)
		require.Equal(t, "chan-2", settled[0].ChannelId)
	})

	t.Run("order_expired", func(t *testing.T) {
		svc, _ := newService(t)
		order := domain.PendingOrder{Id: "order-3", ClientBalanceSat: 10_000}

		intent, err := svc.BeginToSpending(ctx, order)
		require.NoError(t, err)

		require.NoError(t, svc.OrderExpired(ctx, "order-3"))

		stored, err := svc.GetTransfer(ctx, intent.TransferIds[0])
		require.NoError(t, err)
		require.Equal(t, domain.TransferStatusGaveUp, stored.Status)

		active, err := svc.ListActive(ctx)
		require.NoError(t, err)
		require.Empty(t, active)
	})

	t.Run("null_amount", func(t *testing.T) {
		svc, _ := newService(t)
		_, err := svc.BeginToSpending(ctx, domain.PendingOrder{Id: "order-4"})
		require.ErrorIs(t, err, domain.ErrTransferNullAmount)
	})
}

func TestMarkSettledAndPrune(t *testing.T) {
	svc, publisher := newService(t)

	intent, err := svc.BeginToSavings(ctx, []domain.ChannelInfo{newChannel("chan-1", 1_000)})
	require.NoError(t, err)
	id := intent.TransferIds[0]

	require.NoError(t, svc.MarkSettled(ctx, id))
	require.Equal(t, id, publisher.waitSettled(t).Id)

	// Already settled, no new event.
	err = svc.MarkSettled(ctx, id)
	require.NoError(t, err)
	select {
	case <-publisher.settled:
		t.Fatal("unexpected settled event")
	case <-time.After(50 * time.Millisecond):
	}

	err = svc.MarkSettled(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrTransferNotFound)

	count, err := svc.PruneSettled(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = svc.PruneSettled(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = svc.GetTransfer(ctx, id)
	require.ErrorIs(t, err, domain.ErrTransferNotFound)
}
