package application

import (
	"time"

	"github.com/lightningnetwork/lnd/clock"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/balance"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/coopclose"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/order"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/transfer"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/watcher"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
	webhookpubsub "github.com/synonymdev/bitkit-balanced/internal/infrastructure/pubsub"
	dbbadger "github.com/synonymdev/bitkit-balanced/internal/infrastructure/storage/db/badger"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/storage/db/inmemory"
	postgresdb "github.com/synonymdev/bitkit-balanced/internal/infrastructure/storage/db/pg"
)

const (
	DBBadger   = "badger"
	DBInMemory = "inmemory"
	DBPostgres = "postgres"
)

var (
	SupportedDBType = map[string]struct{}{
		DBBadger:   {},
		DBInMemory: {},
		DBPostgres: {},
	}
)

// Config wires the services of the engine. Services are built lazily, the
// first time they are requested.
type Config struct {
	// DBConfig is the datadir for badger and a postgresdb.DbConfig for
	// postgres.
	DBType   string
	DBConfig interface{}

	Node ports.NodeSource
	// Optional. If PubSub is nil and EnableWebhooks is set, events are
	// published to the webhooks stored in the repository.
	PubSub           ports.PubSub
	EnableWebhooks   bool
	BalanceObservers []ports.BalanceObserver
	Clock            clock.Clock

	RetryInterval        time.Duration
	GiveUpInterval       time.Duration
	OnchainPollInterval  time.Duration
	ChannelsPollInterval time.Duration
	OrdersPollInterval   time.Duration
	SettledRetention     time.Duration

	repo      ports.RepoManager
	pubsub    PubSubService
	balance   *balance.Service
	coopclose *coopclose.Service
	orders    *order.Tracker
	transfers *transfer.Service
	watcher   *watcher.Service
	engine    *Engine
}

func (c *Config) Validate() error {
	if c.Node == nil {
		return ErrMissingNodeSource
	}
	if _, ok := SupportedDBType[c.DBType]; !ok {
		return ErrUnsupportedDbType
	}
	if _, err := c.repoManager(); err != nil {
		return err
	}
	if _, err := c.engineService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) RepoManager() ports.RepoManager {
	svc, _ := c.repoManager()
	return svc
}

func (c *Config) PubSubService() PubSubService {
	return c.pubsubService()
}

func (c *Config) BalanceService() *balance.Service {
	return c.balanceService()
}

func (c *Config) CoopCloseService() *coopclose.Service {
	svc, _ := c.coopcloseService()
	return svc
}

func (c *Config) OrderTracker() *order.Tracker {
	svc, _ := c.orderTracker()
	return svc
}

func (c *Config) TransferService() *transfer.Service {
	svc, _ := c.transferService()
	return svc
}

func (c *Config) Engine() *Engine {
	svc, _ := c.engineService()
	return svc
}

func (c *Config) repoManager() (ports.RepoManager, error) {
	if c.repo == nil {
		var (
			repoManager ports.RepoManager
			err         error
		)
		switch c.DBType {
		case DBBadger:
			datadir, _ := c.DBConfig.(string)
			repoManager, err = dbbadger.NewRepoManager(datadir, log.New())
		case DBPostgres:
			dbConfig, _ := c.DBConfig.(postgresdb.DbConfig)
			repoManager, err = postgresdb.NewService(dbConfig)
		case DBInMemory:
			repoManager = inmemory.NewRepoManager()
		default:
			err = ErrUnsupportedDbType
		}
		if err != nil {
			return nil, err
		}
		c.repo = repoManager
	}
	return c.repo, nil
}

func (c *Config) pubsubService() PubSubService {
	if c.pubsub != nil {
		return c.pubsub
	}
	ps := c.PubSub
	if ps == nil && c.EnableWebhooks {
		repo, err := c.repoManager()
		if err != nil {
			return nil
		}
		if ps, err = webhookpubsub.NewService(repo.WebhookRepository()); err != nil {
			return nil
		}
	}
	if ps != nil {
		c.pubsub = NewPubSubService(ps)
	}
	return c.pubsub
}

func (c *Config) balanceService() *balance.Service {
	if c.balance == nil {
		var publisher balance.EventPublisher
		if ps := c.pubsubService(); ps != nil {
			publisher = ps
		}
		c.balance = balance.NewService(publisher, c.BalanceObservers...)
	}
	return c.balance
}

func (c *Config) transferService() (*transfer.Service, error) {
	if c.transfers == nil {
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		var publisher transfer.EventPublisher
		if ps := c.pubsubService(); ps != nil {
			publisher = ps
		}
		svc, err := transfer.NewService(repo.TransferRepository(), publisher)
		if err != nil {
			return nil, err
		}
		c.transfers = svc
	}
	return c.transfers, nil
}

func (c *Config) coopcloseService() (*coopclose.Service, error) {
	if c.coopclose == nil {
		transfers, err := c.transferService()
		if err != nil {
			return nil, err
		}
		balanceSvc := c.balanceService()

		var publisher coopclose.EventPublisher
		if ps := c.pubsubService(); ps != nil {
			publisher = ps
		}
		retryInterval := c.RetryInterval
		if retryInterval <= 0 {
			retryInterval = coopclose.DefaultRetryInterval
		}
		giveUpInterval := c.GiveUpInterval
		if giveUpInterval <= 0 {
			giveUpInterval = coopclose.DefaultGiveUpInterval
		}
		svc, err := coopclose.NewService(coopclose.Config{
			Lightning:      c.Node,
			Clock:          c.Clock,
			RetryInterval:  retryInterval,
			GiveUpInterval: giveUpInterval,
			Transfers:      transfers,
			Publisher:      publisher,
			OnClosingChanged: func(closing []domain.ChannelInfo) {
				balanceSvc.UpdateClosing(closing)
			},
		})
		if err != nil {
			return nil, err
		}
		c.coopclose = svc
	}
	return c.coopclose, nil
}

func (c *Config) orderTracker() (*order.Tracker, error) {
	if c.orders == nil {
		svc, err := order.NewTracker(c.Node)
		if err != nil {
			return nil, err
		}
		c.orders = svc
	}
	return c.orders, nil
}

func (c *Config) watcherService() (*watcher.Service, error) {
	if c.watcher == nil {
		orders, err := c.orderTracker()
		if err != nil {
			return nil, err
		}
		svc, err := watcher.NewService(watcher.Config{
			Onchain:          c.Node,
			Lightning:        c.Node,
			Orders:           c.Node,
			OrderIds:         orders.Ids,
			OnchainInterval:  c.OnchainPollInterval,
			ChannelsInterval: c.ChannelsPollInterval,
			OrdersInterval:   c.OrdersPollInterval,
		})
		if err != nil {
			return nil, err
		}
		c.watcher = svc
	}
	return c.watcher, nil
}

func (c *Config) engineService() (*Engine, error) {
	if c.engine == nil {
		coopcloseSvc, err := c.coopcloseService()
		if err != nil {
			return nil, err
		}
		orders, err := c.orderTracker()
		if err != nil {
			return nil, err
		}
		transfers, err := c.transferService()
		if err != nil {
			return nil, err
		}
		watcherSvc, err := c.watcherService()
		if err != nil {
			return nil, err
		}
		engine, err := NewEngine(
			c.balanceService(), coopcloseSvc, orders, transfers, watcherSvc,
			c.SettledRetention,
		)
		if err != nil {
			return nil, err
		}
		c.engine = engine
	}
	return c.engine, nil
}
