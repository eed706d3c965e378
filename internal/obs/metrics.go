package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters and histograms the wallet service and
// crypto layer emit. A caller with no Prometheus registry can pass a
// fresh, unregistered prometheus.NewRegistry() to NewMetrics and simply
// never scrape it.
type Metrics struct {
	Operations      *prometheus.CounterVec
	OperationErrors *prometheus.CounterVec
	KDFDuration     prometheus.Histogram
	SearchDuration  prometheus.Histogram
	SearchResults   prometheus.Histogram
}

// NewMetrics constructs and registers the wallet metric set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_operations_total",
			Help: "Total wallet service operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_operation_errors_total",
			Help: "Total wallet service operation failures by error kind.",
		}, []string{"operation", "kind"}),
		KDFDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallet_kdf_duration_seconds",
			Help:    "Time spent in the memory-hard key derivation function.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallet_search_duration_seconds",
			Help:    "Time spent compiling and dispatching a search.",
			Buckets: prometheus.DefBuckets,
		}),
		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallet_search_results",
			Help:    "Number of records a search returned.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Operations, m.OperationErrors, m.KDFDuration, m.SearchDuration, m.SearchResults)
	}
	return m
}

// ObserveOperation records the outcome of a wallet operation.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveKDF records a KDF invocation's wall-clock cost.
func (m *Metrics) ObserveKDF(d time.Duration) {
	if m == nil {
		return
	}
	m.KDFDuration.Observe(d.Seconds())
}

// ObserveSearch records a search's cost and result size.
func (m *Metrics) ObserveSearch(d time.Duration, results int) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(d.Seconds())
	m.SearchResults.Observe(float64(results))
}
