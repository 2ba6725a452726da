package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/saga"
)

// Saga outcomes reported to Prometheus.
const (
	SagaOutcomeSuccess     = "success"
	SagaOutcomeCompensated = "compensated"
	SagaOutcomePartial     = "partial"
	SagaOutcomeFailed      = "failed"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	sagaRuns        *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	graduations     *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
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
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	sagaRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_runs_total",
		Help: "Saga executions by outcome",
	}, []string{"saga", "outcome"})

	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Compensating actions by result",
	}, []string{"saga", "result"})

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_resolutions_total",
		Help: "Role resolutions by resulting kind",
	}, []string{"kind"})

	graduations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "graduation_attendees_finalized_total",
		Help: "Finalized graduation attendees by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		sagaRuns, compensations, resolutions, graduations, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		sagaRuns:        sagaRuns,
		compensations:   compensations,
		resolutions:     resolutions,
		graduations:     graduations,
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

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordSaga classifies a saga result.
func (m *MetricsService) RecordSaga(name string, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.sagaRuns.WithLabelValues(name, SagaOutcomeSuccess).Inc()
		return
	}
	sagaErr, ok := saga.AsError(err)
	if !ok {
		m.sagaRuns.WithLabelValues(name, SagaOutcomeFailed).Inc()
		return
	}
	m.compensations.WithLabelValues(name, "ok").Add(float64(len(sagaErr.Compensated)))
	switch {
	case sagaErr.Partial():
		m.sagaRuns.WithLabelValues(name, SagaOutcomePartial).Inc()
		if sagaErr.Compensation != nil {
			m.compensations.WithLabelValues(name, "failed").Inc()
		}
	case len(sagaErr.Compensated) > 0:
		m.sagaRuns.WithLabelValues(name, SagaOutcomeCompensated).Inc()
	default:
		m.sagaRuns.WithLabelValues(name, SagaOutcomeFailed).Inc()
	}
}

// RecordResolution counts a role resolution.
func (m *MetricsService) RecordResolution(kind models.IdentityKind) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(kind)).Inc()
}

// RecordGraduation counts one finalized attendee.
func (m *MetricsService) RecordGraduation(outcome models.GraduationOutcome) {
	if m == nil {
		return
	}
	result := "failed"
	switch {
	case outcome.Skipped:
		result = "skipped"
	case outcome.Approved:
		result = "approved"
	}
	m.graduations.WithLabelValues(result).Inc()
}
