package coopclose_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/coopclose"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

var (
	startTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	chanA = domain.ChannelInfo{ChannelId: "chan-a", OutboundCapacityMsat: 30_000_000, IsUsable: true}
	chanB = domain.ChannelInfo{ChannelId: "chan-b", OutboundCapacityMsat: 10_000_000, IsUsable: true}
	chanC = domain.ChannelInfo{ChannelId: "chan-c", OutboundCapacityMsat: 5_000_000, IsUsable: true}

	errPeerOffline = fmt.Errorf("peer is offline")
)

func TestNewService(t *testing.T) {
	lightning := &lightningMock{}

	tests := []struct {
		name        string
		cfg         coopclose.Config
		expectedErr error
	}{
		{
			name: "missing_lightning_source",
			cfg: coopclose.Config{
				RetryInterval: time.Minute, GiveUpInterval: time.Hour,
			},
			expectedErr: coopclose.ErrMissingLightningSource,
		},
		{
			name: "invalid_retry_interval",
			cfg: coopclose.Config{
				Lightning: lightning, GiveUpInterval: time.Hour,
			},
			expectedErr: coopclose.ErrInvalidRetryInterval,
		},
		{
			name: "give_up_shorter_than_retry",
			cfg: coopclose.Config{
				Lightning: lightning, RetryInterval: time.Hour,
				GiveUpInterval: time.Minute,
			},
			expectedErr: coopclose.ErrInvalidGiveUpInterval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := coopclose.NewService(tt.cfg)
			require.ErrorIs(t, err, tt.expectedErr)
			require.Nil(t, svc)
		})
	}

	svc, err := coopclose.NewService(coopclose.Config{
		Lightning:      lightning,
		RetryInterval:  coopclose.DefaultRetryInterval,
		GiveUpInterval: coopclose.DefaultGiveUpInterval,
	})
	require.NoError(t, err)
	require.Equal(t, coopclose.StateIdle, svc.State())
	require.Empty(t, svc.ClosingChannels())

	_, err = svc.Start(context.Background(), nil)
	require.ErrorIs(t, err, coopclose.ErrNoChannels)
}

func TestCampaignGivesUp(t *testing.T) {
	lightning := &lightningMock{}
	lightning.On("CloseChannel", mock.Anything, mock.Anything).Return(errPeerOffline)
	transfers := &transferTrackerMock{}
	tickSignal := make(chan time.Duration)
	testClock := clock.NewTestClockWithTickSignal(startTime, tickSignal)

	svc, err := coopclose.NewService(coopclose.Config{
		Lightning:      lightning,
		Clock:          testClock,
		RetryInterval:  60 * time.Second,
		GiveUpInterval: 1800 * time.Second,
		Transfers:      transfers,
	})
	require.NoError(t, err)

	campaignId, err := svc.Start(context.Background(), []domain.ChannelInfo{chanA, chanB})
	require.NoError(t, err)

	// Every failed round is followed by a wait of one retry interval. The
	// campaign must still be retrying right before the give up interval.
	for i := 0; i < 30; i++ {
		require.Equal(t, 60*time.Second, waitTick(t, tickSignal))
		require.Equal(t, coopclose.StateRetrying, svc.State())
		require.Len(t, svc.ClosingChannels(), 2)
		testClock.SetTime(testClock.Now().Add(time.Minute))
	}

	event := waitGiveUp(t, svc)
	require.Equal(t, campaignId, event.CampaignId)
	require.Equal(t, startTime, event.StartedAt)
	require.Equal(t, startTime.Add(1800*time.Second), event.GaveUpAt)
	require.Len(t, event.Channels, 2)

	require.Equal(t, coopclose.StateGaveUp, svc.State())
	status := svc.Status()
	require.Equal(t, 31, status.Rounds)
	require.Empty(t, status.Working)
	require.ElementsMatch(t, []domain.ChannelInfo{chanA, chanB}, svc.NeedsForceClose())
	require.Empty(t, svc.ClosingChannels())
	require.ElementsMatch(t, []string{chanA.ChannelId, chanB.ChannelId}, transfers.abandonedIds())
	require.Empty(t, transfers.acceptedIds())
	lightning.AssertNumberOfCalls(t, "CloseChannel", 62)
}

func TestCampaignSucceeds(t *testing.T) {
	lightning := &lightningMock{}
	lightning.On("CloseChannel", mock.Anything, chanA).Return(nil)
	lightning.On("CloseChannel", mock.Anything, chanB).Return(errPeerOffline).Once()
	lightning.On("CloseChannel", mock.Anything, chanB).Return(nil)
	transfers := &transferTrackerMock{}
	closing := &closingRecorder{}
	tickSignal := make(chan time.Duration)
	testClock := clock.NewTestClockWithTickSignal(startTime, tickSignal)

	svc, err := coopclose.NewService(coopclose.Config{
		Lightning:        lightning,
		Clock:            testClock,
		RetryInterval:    time.Minute,
		GiveUpInterval:   30 * time.Minute,
		Transfers:        transfers,
		OnClosingChanged: closing.record,
	})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), []domain.ChannelInfo{chanA, chanB, chanA})
	require.NoError(t, err)

	waitTick(t, tickSignal)
	status := svc.Status()
	require.Equal(t, []domain.ChannelInfo{chanB}, status.Working)
	require.Equal(t, []domain.ChannelInfo{chanA}, status.Accepted)
	// Accepted channels count as closing until the node stops listing them.
	require.ElementsMatch(t, []domain.ChannelInfo{chanA, chanB}, svc.ClosingChannels())

	testClock.SetTime(testClock.Now().Add(time.Minute))

	require.Eventually(t, func() bool {
		return svc.State() == coopclose.StateSucceeded
	}, time.Second, 10*time.Millisecond)
	require.Empty(t, svc.Status().Working)
	require.Empty(t, svc.NeedsForceClose())
	require.ElementsMatch(t, []domain.ChannelInfo{chanA, chanB}, svc.ClosingChannels())
	require.ElementsMatch(t, []string{chanA.ChannelId, chanB.ChannelId}, transfers.acceptedIds())

	svc.SyncLiveChannels([]domain.ChannelInfo{chanB, chanC})
	require.Equal(t, []domain.ChannelInfo{chanB}, svc.ClosingChannels())
	require.Equal(t, []domain.ChannelInfo{chanB}, closing.last())

	svc.SyncLiveChannels(nil)
	require.Empty(t, svc.ClosingChannels())
	require.Empty(t, closing.last())
	lightning.AssertNumberOfCalls(t, "CloseChannel", 3)
}

func TestCampaignWorkingSetNeverGrows(t *testing.T) {
	lightning := &lightningMock{}
	lightning.On("CloseChannel", mock.Anything, chanA).Return(errPeerOffline).Twice()
	lightning.On("CloseChannel", mock.Anything, chanA).Return(nil)
	lightning.On("CloseChannel", mock.Anything, chanB).Return(nil)
	lightning.On("CloseChannel", mock.Anything, chanC).Return(errPeerOffline)
	tickSignal := make(chan time.Duration)
	testClock := clock.NewTestClockWithTickSignal(startTime, tickSignal)

	svc, err := coopclose.NewService(coopclose.Config{
		Lightning:      lightning,
		Clock:          testClock,
		RetryInterval:  time.Minute,
		GiveUpInterval: 5 * time.Minute,
	})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), []domain.ChannelInfo{chanA, chanB, chanC})
	require.NoError(t, err)

	sizes := make([]int, 0)
	for i := 0; i < 5; i++ {
		waitTick(t, tickSignal)
		sizes = append(sizes, len(svc.Status().Working))
		testClock.SetTime(testClock.Now().Add(time.Minute))
	}
	event := waitGiveUp(t, svc)

	require.Equal(t, []int{2, 2, 1, 1, 1}, sizes)
	require.Equal(t, []domain.ChannelInfo{chanC}, event.Channels)
}

func TestCampaignRestartCancelsPrevious(t *testing.T) {
	lightning := &lightningMock{}
	lightning.On("CloseChannel", mock.Anything, mock.Anything).Return(errPeerOffline)
	transfers := &transferTrackerMock{}
	testClock := clock.NewTestClock(startTime)

	svc, err := coopclose.NewService(coopclose.Config{
		Lightning:      lightning,
		Clock:          testClock,
		RetryInterval:  time.Minute,
		GiveUpInterval: 30 * time.Minute,
		Transfers:      transfers,
	})
	require.NoError(t, err)

	firstId, err := svc.Start(context.Background(), []domain.ChannelInfo{chanA, chanB})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return svc.Status().Rounds == 1
	}, time.Second, 10*time.Millisecond)

	secondId, err := svc.Start(context.Background(), []domain.ChannelInfo{chanA, chanC})
	require.NoError(t, err)
	require.NotEqual(t, firstId, secondId)

	status := svc.Status()
	require.Equal(t, secondId, status.CampaignId)
	require.Equal(t, coopclose.StateRetrying, status.State)
	require.Equal(t, []domain.ChannelInfo{chanA, chanC}, status.Working)
	// Only the channel dropped by the new campaign is abandoned.
	require.Equal(t, []string{chanB.ChannelId}, transfers.abandonedIds())
	require.ElementsMatch(t, []domain.ChannelInfo{chanA, chanC}, svc.ClosingChannels())

	svc.Stop()
	require.Equal(t, []string{chanB.ChannelId}, transfers.abandonedIds())
}

func TestCampaignRestartKeepsChannelDeadlines(t *testing.T) {
	lightning := &lightningMock{}
	lightning.On("CloseChannel", mock.Anything, mock.Anything).Return(errPeerOffline)
	transfers := &transferTrackerMock{}
	tickSignal := make(chan time.Duration)
	testClock := clock.NewTestClockWithTickSignal(startTime, tickSignal)

	svc, err := coopclose.NewService(coopclose.Config{
		Lightning:      lightning,
		Clock:          testClock,
		RetryInterval:  time.Minute,
		GiveUpInterval: 10 * time.Minute,
		Transfers:      transfers,
	})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), []domain.ChannelInfo{chanA})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		waitTick(t, tickSignal)
		testClock.SetTime(testClock.Now().Add(time.Minute))
	}
	waitTick(t, tickSignal)

	// chanA joins the new campaign but keeps the deadline it got 6 minutes ago.
	restartTime := testClock.Now()
	campaignId, err := svc.Start(context.Background(), []domain.ChannelInfo{chanA, chanB})
	require.NoError(t, err)
	require.Equal(t, restartTime, svc.Status().StartedAt)

	for i := 0; i < 4; i++ {
		waitTick(t, tickSignal)
		testClock.SetTime(testClock.Now().Add(time.Minute))
	}
	event := waitGiveUp(t, svc)
	require.Equal(t, campaignId, event.CampaignId)
	require.Equal(t, startTime, event.StartedAt)
	require.Equal(t, startTime.Add(10*time.Minute), event.GaveUpAt)
	require.Equal(t, []domain.ChannelInfo{chanA}, event.Channels)

	// chanB is still within its own interval.
	waitTick(t, tickSignal)
	require.Equal(t, coopclose.StateRetrying, svc.State())
	require.Equal(t, []domain.ChannelInfo{chanB}, svc.Status().Working)
	require.Equal(t, []domain.ChannelInfo{chanB}, svc.ClosingChannels())
	require.Equal(t, []domain.ChannelInfo{chanA}, svc.NeedsForceClose())
	require.Equal(t, []string{chanA.ChannelId}, transfers.abandonedIds())

	for i := 0; i < 5; i++ {
		testClock.SetTime(testClock.Now().Add(time.Minute))
		waitTick(t, tickSignal)
	}
	testClock.SetTime(testClock.Now().Add(time.Minute))

	event = waitGiveUp(t, svc)
	require.Equal(t, restartTime, event.StartedAt)
	require.Equal(t, restartTime.Add(10*time.Minute), event.GaveUpAt)
	require.Equal(t, []domain.ChannelInfo{chanB}, event.Channels)

	require.Eventually(t, func() bool {
		return svc.State() == coopclose.StateGaveUp
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []domain.ChannelInfo{chanA, chanB}, svc.NeedsForceClose())
	require.Empty(t, svc.ClosingChannels())
	require.Equal(t, []string{chanA.ChannelId, chanB.ChannelId}, transfers.abandonedIds())
}

func TestCampaignSurvivesPanickingClose(t *testing.T) {
	lightning := &lightningMock{}
	lightning.On("CloseChannel", mock.Anything, chanA).Run(func(mock.Arguments) {
		panic("unexpected node state")
	})
	lightning.On("CloseChannel", mock.Anything, chanB).Return(nil)

	svc, err := coopclose.NewService(coopclose.Config{
		Lightning:      lightning,
		Clock:          clock.NewTestClock(startTime),
		RetryInterval:  time.Minute,
		GiveUpInterval: 30 * time.Minute,
	})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), []domain.ChannelInfo{chanA, chanB})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status := svc.Status()
		return status.Rounds == 1 && len(status.Working) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []domain.ChannelInfo{chanA}, svc.Status().Working)
	require.Equal(t, coopclose.StateRetrying, svc.State())

	svc.Stop()
}

func TestCampaignChannelClosedElsewhere(t *testing.T) {
	lightning := &lightningMock{}
	lightning.On("CloseChannel", mock.Anything, mock.Anything).Return(errPeerOffline)
	tickSignal := make(chan time.Duration)
	testClock := clock.NewTestClockWithTickSignal(startTime, tickSignal)

	svc, err := coopclose.NewService(coopclose.Config{
		Lightning:      lightning,
		Clock:          testClock,
		RetryInterval:  time.Minute,
		GiveUpInterval: 30 * time.Minute,
	})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), []domain.ChannelInfo{chanA})
	require.NoError(t, err)

	waitTick(t, tickSignal)
	svc.SyncLiveChannels([]domain.ChannelInfo{chanB})
	require.Empty(t, svc.ClosingChannels())
	testClock.SetTime(testClock.Now().Add(time.Minute))

	require.Eventually(t, func() bool {
		return svc.State() == coopclose.StateSucceeded
	}, time.Second, 10*time.Millisecond)
	lightning.AssertNumberOfCalls(t, "CloseChannel", 1)
}

func waitTick(t *testing.T, signal chan time.Duration) time.Duration {
	t.Helper()

	select {
	case d := <-signal:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retry wait")
	}
	return 0
}

func waitGiveUp(t *testing.T, svc *coopclose.Service) coopclose.GiveUpEvent {
	t.Helper()

	select {
	case event := <-svc.GiveUps():
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for give up event")
	}
	return coopclose.GiveUpEvent{}
}

type lightningMock struct {
	mock.Mock
}

func (m *lightningMock) ListChannels(ctx context.Context) ([]domain.ChannelInfo, error) {
	args := m.Called(ctx)
	var res []domain.ChannelInfo
	if a := args.Get(0); a != nil {
		res = a.([]domain.ChannelInfo)
	}
	return res, args.Error(1)
}

func (m *lightningMock) CloseChannel(ctx context.Context, channel domain.ChannelInfo) error {
	args := m.Called(ctx, channel)
	return args.Error(0)
}

type transferTrackerMock struct {
	lock      sync.Mutex
	accepted  []string
	abandoned []string
}

func (m *transferTrackerMock) CloseAccepted(_ context.Context, channelId string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.accepted = append(m.accepted, channelId)
	return nil
}

func (m *transferTrackerMock) CloseAbandoned(_ context.Context, channelIds []string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.abandoned = append(m.abandoned, channelIds...)
	return nil
}

func (m *transferTrackerMock) acceptedIds() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.accepted...)
}

func (m *transferTrackerMock) abandonedIds() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.abandoned...)
}

type closingRecorder struct {
	lock    sync.Mutex
	updates [][]domain.ChannelInfo
}

func (r *closingRecorder) record(closing []domain.ChannelInfo) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.updates = append(r.updates, closing)
}

func (r *closingRecorder) last() []domain.ChannelInfo {
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.updates) <= 0 {
		return nil
	}
	return r.updates[len(r.updates)-1]
}
