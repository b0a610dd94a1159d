package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Import metrics
	Transactions     *prometheus.CounterVec
	Batches          *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	Enrichment       *prometheus.CounterVec
	LedgerAppends    prometheus.Counter
	LedgerLoadedSize prometheus.Gauge

	// Authentication metrics
	AuthTransitions *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec

	// Remote API metrics
	RemoteRequests *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers all metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ynabimport_transactions_total",
				Help: "Records processed by the import orchestrator by outcome",
			},
			[]string{"source", "outcome"},
		),
		Batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ynabimport_batches_total",
				Help: "Import batches by final status",
			},
			[]string{"source", "status"},
		),
		BatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ynabimport_batch_duration_seconds",
				Help:    "Duration of import batches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		Enrichment: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ynabimport_enrichment_total",
				Help: "Marketplace enrichment attempts by result",
			},
			[]string{"result"},
		),
		LedgerAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "ynabimport_ledger_appends_total",
			Help: "Import ids appended to the idempotency ledger",
		}),
		LedgerLoadedSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ynabimport_ledger_entries",
			Help: "Number of import ids loaded from the ledger at batch start",
		}),

		AuthTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ynabimport_auth_transitions_total",
				Help: "Bank session state transitions by target state",
			},
			[]string{"to"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ynabimport_auth_failures_total",
				Help: "Bank authentication failures by state",
			},
			[]string{"state"},
		),

		RemoteRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ynabimport_remote_requests_total",
				Help: "Outbound API requests",
			},
			[]string{"service", "operation", "status"},
		),
		RemoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ynabimport_remote_duration_seconds",
				Help:    "Outbound API request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ynabimport_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ynabimport_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ynabimport_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"ip"},
		),
	}
}

// ObserveEnrichment counts one enrichment result. Safe on a nil receiver.
func (m *Metrics) ObserveEnrichment(result string) {
	if m == nil {
		return
	}
	m.Enrichment.WithLabelValues(result).Inc()
}

// ObserveRemote records one outbound call. status is the HTTP status code, or
// 0 when no response arrived. Safe on a nil receiver.
func (m *Metrics) ObserveRemote(service, operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.RemoteRequests.WithLabelValues(service, operation, label).Inc()
	m.RemoteDuration.WithLabelValues(service, operation).Observe(elapsed.Seconds())
}
