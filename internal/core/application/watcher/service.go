package watcher

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type poller struct {
	source   EventType
	interval time.Duration
	// fetch returns a nil event when there is nothing to poll.
	fetch func(ctx context.Context) (Event, error)
}

// Service polls the node sources on independent tickers and emits a typed
// event for every successful fetch. A failed fetch is logged and skipped so
// that the last good snapshot stays authoritative downstream.
type Service struct {
	cfg     Config
	pollers []poller
	events  chan Event

	lock    sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	svc := &Service{
		cfg:    cfg.withDefaults(),
		events: make(chan Event, eventBufferSize),
	}
	svc.pollers = svc.makePollers()
	return svc, nil
}

// Events returns the stream of polled snapshots. It is closed by Stop.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Start spawns one goroutine per configured source. Every poller fetches
// right away, then on each tick.
func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	for _, p := range s.pollers {
		s.wg.Add(1)
		go s.poll(ctx, p)
	}
	return nil
}

// Stop halts the pollers and closes the event stream. The service cannot
// be restarted afterwards.
func (s *Service) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.started {
		return
	}
	s.cancel()
	s.wg.Wait()
	close(s.events)
}

// Refresh fetches every source once and returns the snapshots, skipping the
// sources that failed.
func (s *Service) Refresh(ctx context.Context) []Event {
	events := make([]Event, 0, len(s.pollers))
	for _, p := range s.pollers {
		event, err := p.fetch(ctx)
		if err != nil {
			log.WithError(err).Warnf("failed to refresh %s", p.source)
			continue
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events
}

func (s *Service) makePollers() []poller {
	pollers := make([]poller, 0, 3)

	if s.cfg.Onchain != nil {
		pollers = append(pollers, poller{
			EventTypeOnchain, s.cfg.OnchainInterval,
			func(ctx context.Context) (Event, error) {
				state, err := s.cfg.Onchain.GetOnchainState(ctx)
				if err != nil {
					return nil, err
				}
				return OnchainEvent{state}, nil
			},
		})
	}

	if s.cfg.Lightning != nil {
		pollers = append(pollers, poller{
			EventTypeChannels, s.cfg.ChannelsInterval,
			func(ctx context.Context) (Event, error) {
				channels, err := s.cfg.Lightning.ListChannels(ctx)
				if err != nil {
					return nil, err
				}
				return ChannelsEvent{channels}, nil
			},
		})
	}

	if s.cfg.Orders != nil {
		pollers = append(pollers, poller{
			EventTypeOrders, s.cfg.OrdersInterval,
			func(ctx context.Context) (Event, error) {
				ids := s.cfg.OrderIds()
				if len(ids) <= 0 {
					return nil, nil
				}
				orders, err := s.cfg.Orders.ListOrders(ctx, ids)
				if err != nil {
					return nil, err
				}
				return OrdersEvent{orders}, nil
			},
		})
	}

	return pollers
}

func (s *Service) poll(ctx context.Context, p poller) {
	defer s.wg.Done()

	t := s.cfg.NewTicker(p.interval)
	t.Resume()
	defer t.Stop()

	log.Debugf("%s poller started", p.source)
	defer log.Debugf("%s poller stopped", p.source)

	s.fetch(ctx, p)
	for {
		select {
		case <-t.Ticks():
			s.fetch(ctx, p)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) fetch(ctx context.Context, p poller) {
	event, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warnf("failed to poll %s", p.source)
		}
		return
	}
	if event == nil {
		return
	}

	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}
