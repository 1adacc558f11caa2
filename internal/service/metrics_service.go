package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-audit-api/internal/models"
)

// MetricsSnapshot is a lightweight aggregate served by the observability
// endpoint alongside the Prometheus exposition.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	AuditEntriesTotal        uint64    `json:"audit_entries_total"`
	AuditWriteFailures       uint64    `json:"audit_write_failures"`
	SessionsStarted          uint64    `json:"sessions_started"`
	SessionsEnded            uint64    `json:"sessions_ended"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation and provides
// lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	auditEntries    *prometheus.CounterVec
	auditFailures   prometheus.Counter
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	activeSessions  prometheus.Gauge

	requestCount         uint64
	requestDurationTotal uint64
	auditEntryCount      uint64
	auditFailureCount    uint64
	sessionStartCount    uint64
	sessionEndCount      uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	auditEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_entries_total",
		Help: "Total audit ledger entries recorded, by event",
	}, []string{"event"})

	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Total audit writes that failed and were escalated",
	})

	sessionsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_started_total",
		Help: "Total sessions started",
	})

	sessionsEnded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_ended_total",
		Help: "Total sessions ended, by logout reason",
	}, []string{"reason"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Number of currently active sessions",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, auditEntries, auditFailures, sessionsStarted, sessionsEnded, activeSessions, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		auditEntries:    auditEntries,
		auditFailures:   auditFailures,
		sessionsStarted: sessionsStarted,
		sessionsEnded:   sessionsEnded,
		activeSessions:  activeSessions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveAuditEntry counts one recorded ledger entry.
func (m *MetricsService) ObserveAuditEntry(event models.AuditEvent) {
	if m == nil {
		return
	}
	m.auditEntries.WithLabelValues(string(event)).Inc()
	atomic.AddUint64(&m.auditEntryCount, 1)
}

// ObserveAuditWriteFailure counts one escalated audit persistence failure.
func (m *MetricsService) ObserveAuditWriteFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
	atomic.AddUint64(&m.auditFailureCount, 1)
}

// ObserveSessionStarted counts a new session and adjusts the active gauge.
func (m *MetricsService) ObserveSessionStarted(superseded int64) {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	atomic.AddUint64(&m.sessionStartCount, 1)
	if superseded > 0 {
		m.sessionsEnded.WithLabelValues(string(models.LogoutNewLogin)).Add(float64(superseded))
		atomic.AddUint64(&m.sessionEndCount, uint64(superseded))
	}
	m.activeSessions.Add(1 - float64(superseded))
}

// ObserveSessionEnded counts ended sessions for the given reason.
func (m *MetricsService) ObserveSessionEnded(reason models.LogoutReason, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.sessionsEnded.WithLabelValues(string(reason)).Add(float64(count))
	atomic.AddUint64(&m.sessionEndCount, uint64(count))
	m.activeSessions.Sub(float64(count))
}

// Snapshot returns aggregated metrics suitable for dashboard endpoints.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		AuditEntriesTotal:        atomic.LoadUint64(&m.auditEntryCount),
		AuditWriteFailures:       atomic.LoadUint64(&m.auditFailureCount),
		SessionsStarted:          atomic.LoadUint64(&m.sessionStartCount),
		SessionsEnded:            atomic.LoadUint64(&m.sessionEndCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
