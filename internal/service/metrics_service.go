package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the registrar core.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHitRatio    prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	expirySweeps     *prometheus.CounterVec
	expirySkipped    prometheus.Counter
	termsExpired     prometheus.Counter
	sweepDuration    prometheus.Observer
	loadRejections   *prometheus.CounterVec
	gradeTransitions *prometheus.CounterVec

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

	expirySweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "term_expiry_sweeps_total",
		Help: "Term expiry sweeps by outcome",
	}, []string{"result"})

	expirySkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "term_expiry_sweeps_skipped_total",
		Help: "Expiry ticks skipped because a sweep was still running",
	})

	termsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terms_expired_total",
		Help: "Terms deactivated by the expiry sweep",
	})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "term_expiry_sweep_duration_seconds",
		Help:    "Duration of term expiry sweeps",
		Buckets: prometheus.DefBuckets,
	})

	loadRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "faculty_load_rejections_total",
		Help: "Load assignments rejected by the capacity ledger",
	}, []string{"reason"})

	gradeTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_record_transitions_total",
		Help: "Grade records moved between workflow states",
	}, []string{"to"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		expirySweeps, expirySkipped, termsExpired, sweepDuration, loadRejections, gradeTransitions, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		expirySweeps:     expirySweeps,
		expirySkipped:    expirySkipped,
		termsExpired:     termsExpired,
		sweepDuration:    sweepDuration,
		loadRejections:   loadRejections,
		gradeTransitions: gradeTransitions,
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordExpirySweep records one sweep outcome and how many terms it expired.
func (m *MetricsService) RecordExpirySweep(expired int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.expirySweeps.WithLabelValues(result).Inc()
	m.termsExpired.Add(float64(expired))
	m.sweepDuration.Observe(duration.Seconds())
}

// RecordExpirySkipped counts a tick skipped because the previous sweep was still running.
func (m *MetricsService) RecordExpirySkipped() {
	if m == nil {
		return
	}
	m.expirySkipped.Inc()
}

// RecordLoadRejection counts a rejected load assignment by error code.
func (m *MetricsService) RecordLoadRejection(reason string) {
	if m == nil {
		return
	}
	m.loadRejections.WithLabelValues(reason).Inc()
}

// RecordGradeTransition counts records moved into a workflow status.
func (m *MetricsService) RecordGradeTransition(to string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.gradeTransitions.WithLabelValues(to).Add(float64(count))
}
