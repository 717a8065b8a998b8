package service

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/prepmint-api/internal/evaluation"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	collectionOps   *prometheus.CounterVec
	jobTransitions  *prometheus.CounterVec
	pointsAwarded   *prometheus.CounterVec
	streams         prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors on a private registry.
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
		Help:    "Latency for cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	collectionOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_operations_total",
		Help: "Collection backend calls by source, operation and outcome",
	}, []string{"source", "op", "outcome"})

	jobTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evaluation_job_transitions_total",
		Help: "Evaluation job status changes",
	}, []string{"status"})

	pointsAwarded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gamification_points_awarded_total",
		Help: "Points credited to user profiles by reason",
	}, []string{"reason"})

	streams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collection_streams_active",
		Help: "Open collection change streams",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		collectionOps, jobTransitions, pointsAwarded, streams, goroutines)

	return &MetricsService{
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheLookups:    cacheLookups,
		collectionOps:   collectionOps,
		jobTransitions:  jobTransitions,
		pointsAwarded:   pointsAwarded,
		streams:         streams,
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
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveCollectionOp counts one backend call, labelled by error code.
func (m *MetricsService) ObserveCollectionOp(source, op string, err error) {
	if m == nil {
		return
	}
	m.collectionOps.WithLabelValues(source, op, outcomeLabel(err)).Inc()
}

// RecordJobTransition counts a job entering status.
func (m *MetricsService) RecordJobTransition(status evaluation.JobState) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(string(status)).Inc()
}

// RecordPointsAwarded adds amount to the awarded points of reason.
func (m *MetricsService) RecordPointsAwarded(reason string, amount int) {
	if m == nil {
		return
	}
	m.pointsAwarded.WithLabelValues(reason).Add(float64(amount))
}

// StreamOpened and StreamClosed track live change streams.
func (m *MetricsService) StreamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

func (m *MetricsService) StreamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return "error"
}
