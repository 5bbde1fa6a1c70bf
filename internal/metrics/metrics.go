// Package metrics exposes process-wide Prometheus collectors for the crawler
// and the HTTP listener that serves them.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	storageErrorsTotal         *prometheus.CounterVec
	searchRequestsTotal        *prometheus.CounterVec
	searchRequestDuration      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "podcrawl_active_workers",
			Help: "Workers currently processing a query.",
		})

		rateLimitDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podcrawl_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the outbound rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"key"})

		storageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "podcrawl_storage_errors_total",
			Help: "Failed record store operations, labeled by operation.",
		}, []string{"op"})

		searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "podcrawl_search_requests_total",
			Help: "Outbound catalog API requests, labeled by method and status code.",
		}, []string{"code", "method"})

		searchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podcrawl_search_request_duration_seconds",
			Help:    "Outbound catalog API latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"code", "method"})

		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Requests served by the metrics listener, labeled by method and code.",
		}, []string{"method", "code"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of the metrics listener, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"})
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(key).Observe(d.Seconds())
}

// ObserveStorageError counts a failed store operation.
func ObserveStorageError(op string) {
	Init()
	storageErrorsTotal.WithLabelValues(op).Inc()
}

// InstrumentTransport wraps rt so every outbound catalog request is counted
// and timed. A nil rt wraps http.DefaultTransport.
func InstrumentTransport(rt http.RoundTripper) http.RoundTripper {
	Init()
	if rt == nil {
		rt = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(searchRequestsTotal,
		promhttp.InstrumentRoundTripperDuration(searchRequestDuration, rt))
}

// ObserveHTTPRequest records one request served by the metrics listener.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
