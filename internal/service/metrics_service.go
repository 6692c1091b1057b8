package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic,
// cache behaviour and the consent/homework workflows.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	consentTransitions  *prometheus.CounterVec
	homeworkTransitions *prometheus.CounterVec
	sweepScanned        prometheus.Counter
	sweepExpired        prometheus.Counter
	deliveries          *prometheus.CounterVec
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	consentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consent_transitions_total",
		Help: "Consent workflow transitions by action and result",
	}, []string{"action", "result"})

	homeworkTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "homework_transitions_total",
		Help: "Homework workflow transitions by action and result",
	}, []string{"action", "result"})

	sweepScanned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consent_sweep_scanned_total",
		Help: "Consent records scanned by the expiry sweep",
	})

	sweepExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consent_sweep_expired_total",
		Help: "Consent records expired by the expiry sweep",
	})

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Outbound notification deliveries by channel and result",
	}, []string{"channel", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite,
		cacheHits, cacheMisses, dbQueryDuration,
		consentTransitions, homeworkTransitions, sweepScanned, sweepExpired, deliveries,
		goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		cacheLatency:        cacheLatency,
		cacheWrite:          cacheWrite,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		dbQueryDuration:     dbQueryDuration,
		consentTransitions:  consentTransitions,
		homeworkTransitions: homeworkTransitions,
		sweepScanned:        sweepScanned,
		sweepExpired:        sweepExpired,
		deliveries:          deliveries,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveConsentTransition counts a consent workflow action and whether the
// transition was accepted.
func (m *MetricsService) ObserveConsentTransition(action string, ok bool) {
	if m == nil {
		return
	}
	m.consentTransitions.WithLabelValues(action, resultLabel(ok)).Inc()
}

// ObserveHomeworkTransition counts a homework workflow action and whether the
// transition was accepted.
func (m *MetricsService) ObserveHomeworkTransition(action string, ok bool) {
	if m == nil {
		return
	}
	m.homeworkTransitions.WithLabelValues(action, resultLabel(ok)).Inc()
}

// ObserveSweep records one expiry sweep run.
func (m *MetricsService) ObserveSweep(scanned, expired int) {
	if m == nil {
		return
	}
	m.sweepScanned.Add(float64(scanned))
	m.sweepExpired.Add(float64(expired))
}

// ObserveDelivery records a notification delivery outcome. It satisfies the
// dispatcher's observer interface.
func (m *MetricsService) ObserveDelivery(channel models.NotificationChannel, delivered bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(channel), resultLabel(delivered)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "rejected"
}
