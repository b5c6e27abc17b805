package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/synonymdev/bitkit-balanced/internal/core/application/coopclose"
	"github.com/synonymdev/bitkit-balanced/internal/core/domain"
)

const namespace = "balanced"

// CampaignSource gives the status of the coop close campaign.
type CampaignSource interface {
	CampaignStatus() coopclose.Status
}

// Service exports the derived balance and the coop close campaign as
// Prometheus metrics. It is registered as a balance observer.
type Service struct {
	registry *prometheus.Registry
	balance  *prometheus.GaugeVec
	updates  prometheus.Counter
}

func NewService() *Service {
	registry := prometheus.NewRegistry()
	balance := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_sats",
			Help:      "Derived wallet balance in satoshis, by component.",
		},
		[]string{"component"},
	)
	updates := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "balance_updates_total",
		Help:      "Number of reconciliation passes that changed the balance.",
	})

	registry.MustRegister(
		balance, updates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Service{registry, balance, updates}
}

func (s *Service) ObserveBalance(state domain.BalanceState) {
	s.updates.Inc()
	for component, value := range map[string]uint64{
		"total":               state.TotalBalanceSats,
		"onchain":             state.TotalOnchainSats,
		"onchain_spendable":   state.SpendableOnchainSats,
		"lightning":           state.TotalLightningSats,
		"transfer_to_savings": state.BalanceInTransferToSavings,
		"transfer_to_spend":   state.BalanceInTransferToSpending,
		"max_send_lightning":  state.MaxSendLightningSats,
	} {
		s.balance.WithLabelValues(component).Set(float64(value))
	}
}

// WatchCampaign registers the gauges describing the campaign of the given
// source. They are evaluated at scrape time.
func (s *Service) WatchCampaign(source CampaignSource) error {
	for _, state := range []coopclose.State{
		coopclose.StateIdle, coopclose.StateRetrying,
		coopclose.StateSucceeded, coopclose.StateGaveUp,
	} {
		st := state
		gauge := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "coop_close_state",
				Help:        "1 for the current state of the coop close campaign.",
				ConstLabels: prometheus.Labels{"state": st.String()},
			},
			func() float64 {
				if source.CampaignStatus().State == st {
					return 1
				}
				return 0
			},
		)
		if err := s.registry.Register(gauge); err != nil {
			return err
		}
	}

	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "coop_close_working_channels",
				Help:      "Channels the campaign is still trying to close.",
			},
			func() float64 {
				return float64(len(source.CampaignStatus().Working))
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "coop_close_accepted_channels",
				Help:      "Channels whose close was accepted but still listed by the node.",
			},
			func() float64 {
				return float64(len(source.CampaignStatus().Accepted))
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "coop_close_rounds",
				Help:      "Close rounds run by the current campaign.",
			},
			func() float64 {
				return float64(source.CampaignStatus().Rounds)
			},
		),
	}
	for _, g := range gauges {
		if err := s.registry.Register(g); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Gatherer() prometheus.Gatherer {
	return s.registry
}

// Handler returns the http handler exposing the metrics.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
