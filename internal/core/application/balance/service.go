package balance

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
)

// EventPublisher notifies external listeners of a new balance.
type EventPublisher interface {
	PublishBalanceUpdatedEvent(state domain.BalanceState) error
}

// Inputs is the latest observed value of each input of the reconciler.
type Inputs struct {
	Onchain         domain.OnchainState
	Channels        []domain.ChannelInfo
	PendingOrders   []domain.PendingOrder
	ClosingChannels []domain.ChannelInfo
}

// Service keeps the latest snapshot of every input and derives a new
// balance whenever any of them changes. The derivation itself is pure, the
// lock only guards the cached inputs and the subscriber list.
type Service struct {
	lock *sync.Mutex

	inputs    Inputs
	current   domain.BalanceState
	derived   bool
	listeners []chan domain.BalanceState

	publisher EventPublisher
	observers []ports.BalanceObserver
}

func NewService(
	publisher EventPublisher, observers ...ports.BalanceObserver,
) *Service {
	return &Service{
		lock:      &sync.Mutex{},
		listeners: make([]chan domain.BalanceState, 0),
		publisher: publisher,
		observers: observers,
	}
}

func (s *Service) UpdateOnchain(state domain.OnchainState) domain.BalanceState {
	return s.update(func(in *Inputs) { in.Onchain = state })
}

func (s *Service) UpdateChannels(channels []domain.ChannelInfo) domain.BalanceState {
	channels = append([]domain.ChannelInfo(nil), channels...)
	return s.update(func(in *Inputs) { in.Channels = channels })
}

func (s *Service) UpdateOrders(orders []domain.PendingOrder) domain.BalanceState {
	orders = append([]domain.PendingOrder(nil), orders...)
	return s.update(func(in *Inputs) { in.PendingOrders = orders })
}

// UpdateChannelsAndOrders swaps both inputs in a single pass, so that an
// order turning into a channel is never missing from the published balance.
func (s *Service) UpdateChannelsAndOrders(
	channels []domain.ChannelInfo, orders []domain.PendingOrder,
) domain.BalanceState {
	channels = append([]domain.ChannelInfo(nil), channels...)
	orders = append([]domain.PendingOrder(nil), orders...)
	return s.update(func(in *Inputs) {
		in.Channels = channels
		in.PendingOrders = orders
	})
}

func (s *Service) UpdateClosing(closing []domain.ChannelInfo) domain.BalanceState {
	closing = append([]domain.ChannelInfo(nil), closing...)
	return s.update(func(in *Inputs) { in.ClosingChannels = closing })
}

// Recompute derives the balance again from the cached inputs.
func (s *Service) Recompute() domain.BalanceState {
	return s.update(func(*Inputs) {})
}

// Current returns the latest derived balance.
func (s *Service) Current() domain.BalanceState {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.current
}

// Inputs returns a copy of the cached inputs.
func (s *Service) Inputs() Inputs {
	s.lock.Lock()
	defer s.lock.Unlock()

	return Inputs{
		Onchain:         s.inputs.Onchain,
		Channels:        append([]domain.ChannelInfo(nil), s.inputs.Channels...),
		PendingOrders:   append([]domain.PendingOrder(nil), s.inputs.PendingOrders...),
		ClosingChannels: append([]domain.ChannelInfo(nil), s.inputs.ClosingChannels...),
	}
}

// Subscribe returns a channel receiving every new balance. A listener that
// does not keep up only misses intermediate values: the channel always
// holds the most recent one.
func (s *Service) Subscribe() <-chan domain.BalanceState {
	s.lock.Lock()
	defer s.lock.Unlock()

	ch := make(chan domain.BalanceState, 1)
	if s.derived {
		ch <- s.current
	}
	s.listeners = append(s.listeners, ch)
	return ch
}

// Unsubscribe removes and closes the given listener.
func (s *Service) Unsubscribe(ch <-chan domain.BalanceState) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for i, l := range s.listeners {
		if l == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			close(l)
			return
		}
	}
}

// Close closes all listeners.
func (s *Service) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, l := range s.listeners {
		close(l)
	}
	s.listeners = nil
}

func (s *Service) update(fn func(in *Inputs)) domain.BalanceState {
	s.lock.Lock()
	defer s.lock.Unlock()

	fn(&s.inputs)

	state := domain.DeriveBalanceState(
		s.inputs.Onchain, s.inputs.Channels,
		s.inputs.PendingOrders, s.inputs.ClosingChannels,
	)
	if log.IsLevelEnabled(log.DebugLevel) {
		s.logUnmatchedOrders()
	}

	if s.derived && state == s.current {
		return state
	}
	s.current = state
	s.derived = true

	log.Debugf("balance updated: %s", state)

	for _, l := range s.listeners {
		notifyLatest(l, state)
	}
	for _, o := range s.observers {
		o.ObserveBalance(state)
	}
	if s.publisher != nil {
		go func() {
			if err := s.publisher.PublishBalanceUpdatedEvent(state); err != nil {
				log.WithError(err).Warn("failed to publish balance update")
			}
		}()
	}
	return state
}

func (s *Service) logUnmatchedOrders() {
	result := domain.MatchOrders(s.inputs.PendingOrders, s.inputs.Channels)
	for _, o := range result.Pending {
		log.WithField("order", o.Id).WithField("state", o.State).Debug(
			"order not subsumed by any channel, counted as in transfer",
		)
	}
	for _, m := range result.Matched {
		log.WithField("order", m.Order.Id).WithField("channel", m.Channel.ChannelId).
			Debugf("order subsumed by channel via %s", m.Reason)
	}
}

func notifyLatest(ch chan domain.BalanceState, state domain.BalanceState) {
	select {
	case ch <- state:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- state:
	default:
	}
}
