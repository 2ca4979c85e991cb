package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxdrop_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxdrop_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	attemptsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxdrop_attempts_dispatched_total",
			Help: "Delivery attempts by synchronous outcome (initiated, rejected, store_error)",
		},
		[]string{"outcome"},
	)

	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxdrop_callbacks_total",
			Help: "Provider status callbacks by applied result",
		},
		[]string{"result"},
	)

	callbacksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxdrop_callbacks_dropped_total",
			Help: "Callbacks logged and discarded (malformed, unknown attempt)",
		},
		[]string{"reason"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voxdrop_dispatch_batch_duration_seconds",
			Help:    "Time for one batch to fully settle",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
	)

	synthesisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxdrop_audio_synthesis_total",
			Help: "Audio synthesis requests by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAttemptDispatched records the synchronous outcome of one attempt
func RecordAttemptDispatched(outcome string) {
	attemptsDispatched.WithLabelValues(outcome).Inc()
}

// RecordCallback records an applied status callback
func RecordCallback(result string) {
	callbacksTotal.WithLabelValues(result).Inc()
}

// RecordCallbackDropped records a discarded callback
func RecordCallbackDropped(reason string) {
	callbacksDropped.WithLabelValues(reason).Inc()
}

// RecordBatchDuration records how long a batch took to settle
func RecordBatchDuration(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}

// RecordSynthesis records an audio synthesis outcome
func RecordSynthesis(outcome string) {
	synthesisTotal.WithLabelValues(outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
