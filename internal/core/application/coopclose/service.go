package coopclose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"golang.org/x/sync/errgroup"
)

// Service drives cooperative close campaigns. Only one campaign runs at a
// time: starting a new one cancels the previous.
//
// A campaign closes every channel of its working set concurrently, once per
// round. Channels whose close is accepted leave the working set right away,
// the others are retried after RetryInterval. The campaign succeeds when
// the working set is empty. Every channel has its own deadline, counted
// from the first time a campaign tried to close it: a superseded campaign
// hands its start times over to the next one. At each round boundary the
// channels past their deadline are given up.
type Service struct {
	cfg Config

	// startLock serializes Start and Stop.
	startLock  *sync.Mutex
	lock       *sync.RWMutex
	notifyLock *sync.Mutex

	campaign *campaign
	accepted []domain.ChannelInfo
	giveUps  chan GiveUpEvent
}

type campaign struct {
	id        string
	startedAt time.Time
	state     State
	rounds    int
	working   []domain.ChannelInfo
	// since holds when each channel first joined a retrying campaign.
	since  map[string]time.Time
	gaveUp []domain.ChannelInfo

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Service{
		cfg:        cfg,
		startLock:  &sync.Mutex{},
		lock:       &sync.RWMutex{},
		notifyLock: &sync.Mutex{},
		accepted:   make([]domain.ChannelInfo, 0),
		giveUps:    make(chan GiveUpEvent, 8),
	}, nil
}

// Start cancels the running campaign, if any, waits for it to stop and
// starts a new one for the given channels. The campaign lives until it
// terminates or ctx is canceled.
func (s *Service) Start(ctx context.Context, channels []domain.ChannelInfo) (string, error) {
	channels = uniqueChannels(channels)
	if len(channels) <= 0 {
		return "", ErrNoChannels
	}

	s.startLock.Lock()
	defer s.startLock.Unlock()

	prevWorking, prevSince := s.stop()
	abandoned := excludeChannels(prevWorking, channels)

	now := s.cfg.Clock.Now()
	since := make(map[string]time.Time, len(channels))
	for _, ch := range channels {
		since[ch.ChannelId] = now
		if t, ok := prevSince[ch.ChannelId]; ok {
			since[ch.ChannelId] = t
		}
	}

	campaignCtx, cancel := context.WithCancel(ctx)
	c := &campaign{
		id:        uuid.New().String(),
		startedAt: now,
		state:     StateRetrying,
		working:   channels,
		since:     since,
		gaveUp:    make([]domain.ChannelInfo, 0),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s.lock.Lock()
	s.campaign = c
	s.lock.Unlock()

	if len(abandoned) > 0 {
		s.abandon(ctx, abandoned)
	}
	s.notifyClosingChanged()

	log.WithField("campaign", c.id).Infof(
		"started coop close campaign for %d channel(s)", len(channels),
	)

	go s.run(campaignCtx, c)

	return c.id, nil
}

// Stop cancels the running campaign and waits for it to exit. The channels
// it was still trying to close are left untouched.
func (s *Service) Stop() {
	s.startLock.Lock()
	defer s.startLock.Unlock()

	s.stop()
}

// State returns the state of the current campaign, or StateIdle if none was
// ever started.
func (s *Service) State() State {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.campaign == nil {
		return StateIdle
	}
	return s.campaign.state
}

// Status returns a snapshot of the current campaign.
func (s *Service) Status() Status {
	s.lock.RLock()
	defer s.lock.RUnlock()

	status := Status{
		State:    StateIdle,
		Accepted: copyChannels(s.accepted),
	}
	if c := s.campaign; c != nil {
		status.CampaignId = c.id
		status.State = c.state
		status.StartedAt = c.startedAt
		status.Rounds = c.rounds
		status.Working = copyChannels(c.working)
	}
	return status
}

// ClosingChannels returns the channels actively mid-close: those the
// running campaign is still trying to close and those whose close was
// accepted but that the node still lists.
func (s *Service) ClosingChannels() []domain.ChannelInfo {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.closingChannels()
}

// NeedsForceClose returns the channels the current campaign gave up
// closing. They need a manual or force close.
func (s *Service) NeedsForceClose() []domain.ChannelInfo {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.campaign == nil || len(s.campaign.gaveUp) <= 0 {
		return nil
	}
	return copyChannels(s.campaign.gaveUp)
}

// GiveUps returns the channel where an event is emitted every time a
// campaign gives up.
func (s *Service) GiveUps() <-chan GiveUpEvent {
	return s.giveUps
}

// SyncLiveChannels drops from the closing set the channels that are no
// longer listed by the node, meaning their close tx made it on-chain.
func (s *Service) SyncLiveChannels(live []domain.ChannelInfo) {
	liveIds := make(map[string]struct{}, len(live))
	for _, c := range live {
		liveIds[c.ChannelId] = struct{}{}
	}
	isLive := func(c domain.ChannelInfo) bool {
		_, ok := liveIds[c.ChannelId]
		return ok
	}

	s.lock.Lock()
	changed := false
	accepted := filterChannels(s.accepted, isLive)
	if len(accepted) != len(s.accepted) {
		s.accepted = accepted
		changed = true
	}
	if c := s.campaign; c != nil && c.state != StateSucceeded {
		working := filterChannels(c.working, isLive)
		if len(working) != len(c.working) {
			log.WithField("campaign", c.id).Debugf(
				"%d channel(s) closed outside of campaign",
				len(c.working)-len(working),
			)
			c.working = working
			changed = true
		}
		c.gaveUp = filterChannels(c.gaveUp, isLive)
	}
	s.lock.Unlock()

	if changed {
		s.notifyClosingChanged()
	}
}

// RestoreAccepted adds the given channels to those whose close was already
// accepted, as when resuming after a restart. The ones the node no longer
// lists are dropped by the next SyncLiveChannels.
func (s *Service) RestoreAccepted(channels []domain.ChannelInfo) {
	s.lock.Lock()
	added := excludeChannels(uniqueChannels(channels), s.accepted)
	s.accepted = append(s.accepted, added...)
	s.lock.Unlock()

	if len(added) > 0 {
		log.Debugf("restored %d channel(s) pending close", len(added))
		s.notifyClosingChanged()
	}
}

// stop returns the channels the stopped campaign was still retrying, along
// with the time each of them joined it.
func (s *Service) stop() ([]domain.ChannelInfo, map[string]time.Time) {
	s.lock.RLock()
	c := s.campaign
	s.lock.RUnlock()

	if c == nil {
		return nil, nil
	}

	c.cancel()
	<-c.done

	s.lock.RLock()
	defer s.lock.RUnlock()

	if c.state != StateRetrying {
		return nil, nil
	}
	since := make(map[string]time.Time, len(c.working))
	for _, ch := range c.working {
		since[ch.ChannelId] = c.since[ch.ChannelId]
	}
	return copyChannels(c.working), since
}

func (s *Service) run(ctx context.Context, c *campaign) {
	defer close(c.done)

	logger := log.WithField("campaign", c.id)

	for {
		s.closeRound(ctx, c)
		if ctx.Err() != nil {
			logger.Debug("coop close campaign canceled")
			return
		}

		s.lock.Lock()
		if len(c.working) == 0 {
			s.finish(c)
			s.lock.Unlock()
			return
		}

		now := s.cfg.Clock.Now()
		expired := filterChannels(c.working, func(ch domain.ChannelInfo) bool {
			return now.Sub(c.since[ch.ChannelId]) >= s.cfg.GiveUpInterval
		})
		if len(expired) > 0 {
			c.working = excludeChannels(c.working, expired)
			c.gaveUp = append(c.gaveUp, expired...)
			if len(c.working) == 0 {
				c.state = StateGaveUp
			}
		}
		remaining := len(c.working)
		s.lock.Unlock()

		if len(expired) > 0 {
			s.giveUp(ctx, c, now, expired)
			if remaining == 0 {
				return
			}
		}

		logger.Debugf(
			"%d channel(s) still open, retrying in %s", remaining, s.cfg.RetryInterval,
		)

		select {
		case <-ctx.Done():
			logger.Debug("coop close campaign canceled")
			return
		case <-s.cfg.Clock.TickAfter(s.cfg.RetryInterval):
		}
	}
}

// closeRound attempts to close every channel of the working set
// concurrently. Each attempt is independent of the others.
func (s *Service) closeRound(ctx context.Context, c *campaign) {
	s.lock.Lock()
	c.rounds++
	round := c.rounds
	working := copyChannels(c.working)
	s.lock.Unlock()

	eg := &errgroup.Group{}
	for i := range working {
		channel := working[i]
		eg.Go(func() error {
			if err := s.tryClose(ctx, channel); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"campaign": c.id,
					"channel":  channel.ChannelId,
					"round":    round,
				}).Debug("coop close attempt failed")
				return nil
			}
			s.closeAccepted(ctx, c, channel)
			return nil
		})
	}
	_ = eg.Wait()
}

func (s *Service) tryClose(ctx context.Context, channel domain.ChannelInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close channel panicked: %v", r)
		}
	}()

	return s.cfg.Lightning.CloseChannel(ctx, channel)
}

func (s *Service) closeAccepted(ctx context.Context, c *campaign, channel domain.ChannelInfo) {
	s.lock.Lock()
	c.working = excludeChannels(c.working, []domain.ChannelInfo{channel})
	if !containsChannel(s.accepted, channel.ChannelId) {
		s.accepted = append(s.accepted, channel)
	}
	s.lock.Unlock()

	log.WithFields(log.Fields{
		"campaign": c.id,
		"channel":  channel.ChannelId,
	}).Info("coop close accepted")

	if s.cfg.Transfers != nil {
		if err := s.cfg.Transfers.CloseAccepted(
			context.WithoutCancel(ctx), channel.ChannelId,
		); err != nil {
			log.WithError(err).Warnf(
				"failed to update transfer for channel %s", channel.ChannelId,
			)
		}
	}
	s.notifyClosingChanged()
}

// finish marks a campaign whose working set is empty as terminated. It must
// be called while holding the lock.
func (s *Service) finish(c *campaign) {
	logger := log.WithField("campaign", c.id)
	if len(c.gaveUp) > 0 {
		c.state = StateGaveUp
		logger.Warnf(
			"coop close campaign ended with %d channel(s) given up", len(c.gaveUp),
		)
		return
	}
	c.state = StateSucceeded
	logger.Infof("coop close campaign succeeded after %d round(s)", c.rounds)
}

func (s *Service) giveUp(
	ctx context.Context, c *campaign, now time.Time, channels []domain.ChannelInfo,
) {
	s.lock.RLock()
	startedAt := now
	for _, ch := range channels {
		if t := c.since[ch.ChannelId]; t.Before(startedAt) {
			startedAt = t
		}
	}
	s.lock.RUnlock()

	log.WithField("campaign", c.id).Warnf(
		"gave up coop closing %d channel(s) after %s, force close needed",
		len(channels), now.Sub(startedAt),
	)

	s.abandon(context.WithoutCancel(ctx), channels)
	s.notifyClosingChanged()

	event := GiveUpEvent{
		CampaignId: c.id,
		StartedAt:  startedAt,
		GaveUpAt:   now,
		Channels:   channels,
	}
	select {
	case s.giveUps <- event:
	default:
		log.Warn("give up event dropped, no listener")
	}

	if s.cfg.Publisher != nil {
		if err := s.cfg.Publisher.PublishCoopCloseGaveUpEvent(
			c.id, startedAt, channels,
		); err != nil {
			log.WithError(err).Warn("failed to publish coop close give up")
		}
	}
}

func (s *Service) abandon(ctx context.Context, channels []domain.ChannelInfo) {
	if s.cfg.Transfers == nil {
		return
	}
	ids := make([]string, 0, len(channels))
	for _, c := range channels {
		ids = append(ids, c.ChannelId)
	}
	if err := s.cfg.Transfers.CloseAbandoned(ctx, ids); err != nil {
		log.WithError(err).Warn("failed to update transfers of abandoned channels")
	}
}

func (s *Service) closingChannels() []domain.ChannelInfo {
	closing := make([]domain.ChannelInfo, 0)
	if c := s.campaign; c != nil && c.state == StateRetrying {
		closing = append(closing, c.working...)
	}
	for _, ch := range s.accepted {
		if !containsChannel(closing, ch.ChannelId) {
			closing = append(closing, ch)
		}
	}
	return closing
}

// notifyClosingChanged pushes the latest closing set to the callback. The
// snapshot is taken while holding notifyLock so that the last notification
// always carries the latest set.
func (s *Service) notifyClosingChanged() {
	if s.cfg.OnClosingChanged == nil {
		return
	}

	s.notifyLock.Lock()
	defer s.notifyLock.Unlock()

	s.cfg.OnClosingChanged(s.ClosingChannels())
}

func uniqueChannels(channels []domain.ChannelInfo) []domain.ChannelInfo {
	result := make([]domain.ChannelInfo, 0, len(channels))
	for _, c := range channels {
		if !containsChannel(result, c.ChannelId) {
			result = append(result, c)
		}
	}
	return result
}

func excludeChannels(
	channels []domain.ChannelInfo, excluded []domain.ChannelInfo,
) []domain.ChannelInfo {
	return filterChannels(channels, func(c domain.ChannelInfo) bool {
		return !containsChannel(excluded, c.ChannelId)
	})
}

func filterChannels(
	channels []domain.ChannelInfo, keep func(domain.ChannelInfo) bool,
) []domain.ChannelInfo {
	return fn.Filter(channels, keep)
}

func containsChannel(channels []domain.ChannelInfo, id string) bool {
	return fn.Any(channels, func(c domain.ChannelInfo) bool {
		return c.ChannelId == id
	})
}

func copyChannels(channels []domain.ChannelInfo) []domain.ChannelInfo {
	return append([]domain.ChannelInfo(nil), channels...)
}
