package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dagbft"

// Metrics are the prometheus collectors of one node. Every series carries the
// authority moniker so that several nodes can share a registry.
type Metrics struct {
	BlocksAccepted  prometheus.Counter
	BlocksRejected  *prometheus.CounterVec
	BlocksProposed  prometheus.Counter
	Commits         prometheus.Counter
	CommittedBlocks prometheus.Counter
	SkippedLeaders  prometheus.Gauge
	Round           prometheus.Gauge
	PendingBlocks   prometheus.Gauge
	Equivocations   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, moniker string) (*Metrics, error) {
	labels := prometheus.Labels{"authority": moniker}

	m := &Metrics{
		BlocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "blocks_accepted_total",
			Help:        "Blocks that passed decoding and validation.",
			ConstLabels: labels,
		}),
		BlocksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "blocks_rejected_total",
			Help:        "Blocks dropped, by error kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		BlocksProposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "blocks_proposed_total",
			Help:        "Blocks proposed by this authority.",
			ConstLabels: labels,
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "commits_total",
			Help:        "Committed sub-DAGs.",
			ConstLabels: labels,
		}),
		CommittedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "committed_blocks_total",
			Help:        "Blocks output in committed sub-DAGs.",
			ConstLabels: labels,
		}),
		SkippedLeaders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "skipped_leaders",
			Help:        "Leaders decided as skipped since start.",
			ConstLabels: labels,
		}),
		Round: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "round",
			Help:        "Round of the next proposal.",
			ConstLabels: labels,
		}),
		PendingBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "pending_blocks",
			Help:        "Blocks waiting for their ancestors.",
			ConstLabels: labels,
		}),
		Equivocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "equivocations",
			Help:        "Blocks admitted into an already occupied slot.",
			ConstLabels: labels,
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.BlocksAccepted,
		m.BlocksRejected,
		m.BlocksProposed,
		m.Commits,
		m.CommittedBlocks,
		m.SkippedLeaders,
		m.Round,
		m.PendingBlocks,
		m.Equivocations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) observeCore(c *Core) {
	m.Round.Set(float64(c.clock.GetRound()))
	m.PendingBlocks.Set(float64(len(c.pending)))
	m.SkippedLeaders.Set(float64(c.skippedLeaders))
	m.Equivocations.Set(float64(c.equivocations))
}
