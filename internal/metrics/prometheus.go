// Package metrics exposes leafdb's operational counters through
// github.com/prometheus/client_golang, grounded on the promauto
// registration style used by bun-kms/internal/metrics in the pack
// this module was built alongside (see DESIGN.md).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the Prometheus instruments a Store reports
// through. Every Store opened with metrics enabled shares Default(),
// so all Stores in one process report into the same instruments; New
// builds a separate Collector against a caller-chosen registry.
type Collector struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DocumentsLive     *prometheus.GaugeVec
	DocumentsDeleted  *prometheus.GaugeVec
	IndexesLoaded     *prometheus.GaugeVec
	ParseErrorsTotal  *prometheus.CounterVec
	RebuildsTotal     *prometheus.CounterVec
}

// New registers a fresh set of instruments under namespace (e.g.
// "leafdb") against reg. Pass prometheus.NewRegistry() in tests to
// avoid colliding with other Collectors in the same process.
func New(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of façade operations by type and status.",
		}, []string{"operation", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Façade operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		DocumentsLive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents_live",
			Help:      "Live (non-tombstoned) documents per collection.",
		}, []string{"collection"}),
		DocumentsDeleted: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents_tombstoned",
			Help:      "Tombstoned documents per collection.",
		}, []string{"collection"}),
		IndexesLoaded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexes_loaded",
			Help:      "Secondary indexes currently loaded per collection.",
		}, []string{"collection"}),
		ParseErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Log records that failed to parse on read or rebuild.",
		}, []string{"collection", "source"}),
		RebuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rebuilds_total",
			Help:      "Secondary index (re)builds performed.",
		}, []string{"collection", "index"}),
	}
}

var defaultCollector = New("leafdb", prometheus.DefaultRegisterer)

// Default returns the package-level Collector registered against the
// global Prometheus registry.
func Default() *Collector { return defaultCollector }

// ObserveOperation records one façade operation's outcome and latency.
func (c *Collector) ObserveOperation(operation, status string, d time.Duration) {
	c.OperationsTotal.WithLabelValues(operation, status).Inc()
	c.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}
