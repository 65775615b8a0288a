package observability

import (
	"time"

	"github.com/boddenberg/pj-clientes-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the client core.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	authEvents        *prometheus.CounterVec
	customerOps       *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	busyRejections    prometheus.Counter
	customersInMemory prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clientes_operation_duration_seconds",
				Help:    "Duration of backend-bound operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientes_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientes_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientes_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		authEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientes_auth_events_total",
				Help: "Auth events processed by the session store.",
			},
			[]string{"type"},
		),
		customerOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientes_customer_operations_total",
				Help: "Customer list operations by outcome.",
			},
			[]string{"operation", "status"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clientes_notifications_total",
				Help: "User-facing notifications raised.",
			},
			[]string{"kind"},
		),
		busyRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clientes_busy_rejections_total",
				Help: "User submissions rejected while another was in flight.",
			},
		),
		customersInMemory: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "clientes_customers_in_memory",
				Help: "Customers currently held for the active tenant.",
			},
		),
	}
}

// RecordDuration records the duration of an operation.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrAuthEvent counts an auth event handled by the session store.
func (m *Metrics) IncrAuthEvent(eventType domain.AuthEventType) {
	m.authEvents.WithLabelValues(string(eventType)).Inc()
}

// IncrCustomerOp counts a customer operation with "success" or "error".
func (m *Metrics) IncrCustomerOp(operation, status string) {
	m.customerOps.WithLabelValues(operation, status).Inc()
}

// IncrNotification counts a notification by kind.
func (m *Metrics) IncrNotification(kind domain.NotificationKind) {
	m.notifications.WithLabelValues(string(kind)).Inc()
}

// IncrBusyRejection counts a submission dropped by the busy flag.
func (m *Metrics) IncrBusyRejection() {
	m.busyRejections.Inc()
}

// SetCustomersInMemory tracks the size of the in-memory list.
func (m *Metrics) SetCustomersInMemory(n int) {
	m.customersInMemory.Set(float64(n))
}

// GetSyncSnapshot returns a snapshot suitable for GET /v1/metrics/session.
func (m *Metrics) GetSyncSnapshot() *domain.SyncMetrics {
	events := make(map[string]int64, 4)
	for _, t := range []domain.AuthEventType{
		domain.EventSignedIn,
		domain.EventSignedOut,
		domain.EventUserDeleted,
		domain.EventTokenRefreshed,
	} {
		events[string(t)] = int64(getCounterValue(m.authEvents, string(t)))
	}

	hits := getCounterValue(m.cacheHits, "profile")
	misses := getCounterValue(m.cacheMisses, "profile")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.SyncMetrics{
		AuthEvents:        events,
		CustomerLoads:     int64(getCounterValue(m.customerOps, "load", "success")),
		CustomerLoadFails: int64(getCounterValue(m.customerOps, "load", "error")),
		Saves:             int64(getCounterValue(m.customerOps, "save", "success")),
		Deletes:           int64(getCounterValue(m.customerOps, "delete", "success")),
		BusyRejections:    int64(readMetric(m.busyRejections)),
		Notifications: int64(getCounterValue(m.notifications, string(domain.NotifySuccess)) +
			getCounterValue(m.notifications, string(domain.NotifyError))),
		ProfileCacheHit:   hitRate,
		CustomersInMemory: int64(readMetric(m.customersInMemory)),
	}
}

// getCounterValue extracts the current value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return readMetric(cv.WithLabelValues(labels...))
}

func readMetric(metric prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := metric.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}
