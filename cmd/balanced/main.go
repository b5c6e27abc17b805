package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/config"
	"github.com/synonymdev/bitkit-balanced/internal/core/application"
	"github.com/synonymdev/bitkit-balanced/internal/core/ports"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/metrics"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/node/bridge"
	"github.com/synonymdev/bitkit-balanced/internal/infrastructure/node/snapshot"
	httpinterface "github.com/synonymdev/bitkit-balanced/internal/interfaces/http"
	"github.com/synonymdev/bitkit-balanced/pkg/stats"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("failed to init config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	nodeSvc, err := newNodeSource()
	if err != nil {
		log.WithError(err).Fatal("failed to connect to node")
	}

	var metricsSvc *metrics.Service
	observers := make([]ports.BalanceObserver, 0, 1)
	metricsAddr := config.GetString(config.MetricsAddrKey)
	if len(metricsAddr) > 0 {
		metricsSvc = metrics.NewService()
		observers = append(observers, metricsSvc)
	}

	appConfig := &application.Config{
		DBType:               config.GetString(config.DBTypeKey),
		DBConfig:             config.DBConfig(),
		Node:                 nodeSvc,
		EnableWebhooks:       config.GetBool(config.EnableWebhooksKey),
		BalanceObservers:     observers,
		RetryInterval:        config.RetryInterval(),
		GiveUpInterval:       config.GiveUpInterval(),
		OnchainPollInterval:  config.OnchainPollInterval(),
		ChannelsPollInterval: config.ChannelsPollInterval(),
		OrdersPollInterval:   config.OrdersPollInterval(),
		SettledRetention:     config.GetDuration(config.SettledRetentionKey),
	}
	if err := appConfig.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	defer appConfig.RepoManager().Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := appConfig.Engine()
	if err := engine.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start balance engine")
	}
	defer engine.Stop()

	operatorOpts := httpinterface.ServiceOpts{
		Address:  config.GetString(config.OperatorAddrKey),
		Engine:   engine,
		Webhooks: appConfig.PubSubService(),
	}

	var metricsServer *http.Server
	if metricsSvc != nil {
		if err := metricsSvc.WatchCampaign(engine); err != nil {
			log.WithError(err).Fatal("failed to register campaign metrics")
		}
		if metricsAddr == operatorOpts.Address {
			operatorOpts.MetricsHandler = metricsSvc.Handler()
		} else {
			metricsServer = startMetricsServer(metricsAddr, metricsSvc.Handler())
		}

		if interval := config.StatsInterval(); interval > 0 {
			stats.EnableMemoryStatistics(
				ctx, interval, metricsSvc.Gatherer(),
				filepath.Join(config.GetDatadir(), config.StatsLocation),
			)
		}
	}

	operatorSvc, err := httpinterface.NewService(operatorOpts)
	if err != nil {
		log.WithError(err).Fatal("failed to init operator interface")
	}
	if err := operatorSvc.Start(); err != nil {
		log.WithError(err).Fatal("failed to start operator interface")
	}
	defer operatorSvc.Stop()

	log.RegisterExitHandler(cancel)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	<-sigChan

	log.Info("shutting down daemon")
	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		//nolint
		metricsServer.Shutdown(shutdownCtx)
		cancelShutdown()
	}
}

func newNodeSource() (ports.NodeSource, error) {
	if path := config.GetString(config.SnapshotFileKey); len(path) > 0 {
		log.Infof("reading node state from snapshot %s", path)
		return snapshot.NewService(path)
	}
	return bridge.NewService(
		config.GetString(config.BridgeURLKey), config.BridgeRequestTimeout(),
	)
}

func startMetricsServer(addr string, handler http.Handler) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()
	log.Infof("metrics are served at %s/metrics", addr)
	return server
}
