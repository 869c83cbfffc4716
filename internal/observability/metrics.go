package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Payment outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeCompleted = "completed"
)

// Metrics collects Prometheus metrics for the HTTP API, the worker and the billing domain.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	jobsTotal       *prometheus.CounterVec
	paymentsTotal   *prometheus.CounterVec
	receiptsTotal   prometheus.Counter
	deductionsTotal prometheus.Counter
	deductedUnits   prometheus.Counter
	adjustments     *prometheus.CounterVec
	statsCache      *prometheus.CounterVec
}

// NewMetrics initialises the registry with every metric.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medcare_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medcare_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medcare_jobs_total",
			Help: "Background jobs processed by task type and status.",
		}, []string{"task", "status"}),
		paymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medcare_payments_total",
			Help: "Payments processed by method and outcome.",
		}, []string{"method", "outcome"}),
		receiptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medcare_receipts_issued_total",
			Help: "Receipts issued for completed invoices.",
		}),
		deductionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medcare_stock_deductions_total",
			Help: "Inventory items decremented by completed sales.",
		}),
		deductedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medcare_stock_deducted_units_total",
			Help: "Units removed from stock by completed sales.",
		}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medcare_inventory_adjustments_total",
			Help: "Inventory adjustments decided by resulting status.",
		}, []string{"status"}),
		statsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medcare_stats_cache_total",
			Help: "Billing statistics cache lookups by result.",
		}, []string{"result"}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, m.jobsTotal, m.paymentsTotal, m.receiptsTotal,
		m.deductionsTotal, m.deductedUnits, m.adjustments, m.statsCache)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	// Touch label sets so dashboards see zero series before traffic.
	m.jobsTotal.WithLabelValues("none", "ok")
	return m
}

// Handler returns the /metrics http.Handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveJob counts a processed background job.
func (m *Metrics) ObserveJob(task string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobsTotal.WithLabelValues(task, status).Inc()
}

// ObservePayment counts a payment attempt.
func (m *Metrics) ObservePayment(method, outcome string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveReceipt counts an issued receipt.
func (m *Metrics) ObserveReceipt() {
	if m == nil {
		return
	}
	m.receiptsTotal.Inc()
}

// ObserveDeduction counts one stock deduction of units.
func (m *Metrics) ObserveDeduction(units int) {
	if m == nil {
		return
	}
	m.deductionsTotal.Inc()
	m.deductedUnits.Add(float64(units))
}

// ObserveAdjustment counts a decided adjustment.
func (m *Metrics) ObserveAdjustment(status string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(status).Inc()
}

// ObserveStatsCache counts a cache lookup.
func (m *Metrics) ObserveStatsCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.statsCache.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
