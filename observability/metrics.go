// Package observability hosts the process-wide metric registries shared by
// the procurement engines.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProcurementMetrics records run activity, settlement outcomes and
// encryption-counter activity across runs.
type ProcurementMetrics struct {
	runs        *prometheus.CounterVec
	settlements *prometheus.CounterVec
	encryptions prometheus.Counter
	purchases   *prometheus.CounterVec
	runDuration prometheus.Histogram
}

var (
	procureOnce     sync.Once
	procureRegistry *ProcurementMetrics
)

// ProcureMetrics returns the lazily-initialised procurement metrics registry.
func ProcureMetrics() *ProcurementMetrics {
	procureOnce.Do(func() {
		procureRegistry = &ProcurementMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "procure",
				Name:      "runs_total",
				Help:      "Total procurement runs segmented by terminal outcome.",
			}, []string{"outcome"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "procure",
				Name:      "settlements_total",
				Help:      "Total escrow settlements segmented by decision.",
			}, []string{"decision"}),
			encryptions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "procure",
				Name:      "encryptions_total",
				Help:      "Total commitment-layer encryptions across runs.",
			}),
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agora",
				Subsystem: "procure",
				Name:      "purchases_total",
				Help:      "Total provider purchase attempts segmented by result.",
			}, []string{"result"}),
			runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "agora",
				Subsystem: "procure",
				Name:      "run_duration_seconds",
				Help:      "Latency distribution for complete procurement runs.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			procureRegistry.runs,
			procureRegistry.settlements,
			procureRegistry.encryptions,
			procureRegistry.purchases,
			procureRegistry.runDuration,
		)
	})
	return procureRegistry
}

// ObserveRun records a completed run and its wall-clock duration.
func (m *ProcurementMetrics) ObserveRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// ObserveSettlement records one escrow settlement decision ("pay" or
// "refund").
func (m *ProcurementMetrics) ObserveSettlement(decision string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(decision).Inc()
}

// ObserveEncryptions adds the run's encryption count to the process total.
func (m *ProcurementMetrics) ObserveEncryptions(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.encryptions.Add(float64(count))
}

// ObservePurchase records one provider purchase attempt ("ok" or "failed").
func (m *ProcurementMetrics) ObservePurchase(result string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(result).Inc()
}
