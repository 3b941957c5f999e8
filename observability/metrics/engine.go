package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks settlement engine activity across the credit-line,
// stream and pool modules.
type EngineMetrics struct {
	operations    *prometheus.CounterVec
	batchSkips    *prometheus.CounterVec
	volume        *prometheus.CounterVec
	feesCollected *prometheus.CounterVec
	events        *prometheus.CounterVec
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the lazily registered engine metrics.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spot",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine entrypoint invocations by module, operation and outcome.",
			}, []string{"module", "operation", "outcome"}),
			batchSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spot",
				Subsystem: "engine",
				Name:      "batch_skips_total",
				Help:      "Entries skipped by non-failing batch releases by reason.",
			}, []string{"module", "reason"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spot",
				Subsystem: "engine",
				Name:      "settled_volume",
				Help:      "Base units moved by successful operations.",
			}, []string{"module", "operation"}),
			feesCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spot",
				Subsystem: "engine",
				Name:      "fees_collected",
				Help:      "Platform fees routed to the fee sink in base units.",
			}, []string{"module"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spot",
				Subsystem: "indexer",
				Name:      "events_total",
				Help:      "Events persisted by the indexer by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.batchSkips,
			engineRegistry.volume,
			engineRegistry.feesCollected,
			engineRegistry.events,
		)
	})
	return engineRegistry
}

// ObserveOperation records the outcome of one entrypoint call.
func (m *EngineMetrics) ObserveOperation(module, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(module, operation, outcome).Inc()
}

// ObserveBatchSkip counts a skipped batch entry.
func (m *EngineMetrics) ObserveBatchSkip(module, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.batchSkips.WithLabelValues(module, reason).Inc()
}

// AddVolume adds a settled amount. Values beyond float64 precision are
// approximated.
func (m *EngineMetrics) AddVolume(module, operation string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.volume.WithLabelValues(module, operation).Add(f)
}

// AddFees adds a collected fee amount.
func (m *EngineMetrics) AddFees(module string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.feesCollected.WithLabelValues(module).Add(f)
}

// ObserveIndexedEvent counts an event stored by the indexer.
func (m *EngineMetrics) ObserveIndexedEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}
