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
			Name: "daybreak_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daybreak_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybreak_job_runs_total",
			Help: "Job callback invocations by key and outcome",
		},
		[]string{"job", "outcome"},
	)

	notificationsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybreak_notifications_scheduled_total",
			Help: "Pending notifications created by type",
		},
		[]string{"type"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daybreak_notifications_dispatched_total",
			Help: "Dispatch attempts by outcome (sent, failed, deferred)",
		},
		[]string{"outcome"},
	)

	dispatchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daybreak_dispatch_cycle_duration_seconds",
			Help:    "Wall time of one dispatch cycle",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 15, 30},
		},
	)

	dueSetSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daybreak_dispatch_due_set_size",
			Help:    "Number of due notifications fetched per cycle",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	nudgesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daybreak_nudges_generated_total",
			Help: "Nudges produced by the proactive sweep",
		},
	)

	registrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daybreak_job_registry_size",
			Help: "Live jobs currently registered",
		},
	)

	throttleDeferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daybreak_push_throttle_deferred_total",
			Help: "Notifications deferred by the per-user push throttle",
		},
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

// RecordJobRun records one job callback invocation
func RecordJobRun(job, outcome string) {
	jobRunsTotal.WithLabelValues(job, outcome).Inc()
}

// RecordNotificationScheduled records a pending notification creation
func RecordNotificationScheduled(notifType string) {
	notificationsScheduled.WithLabelValues(notifType).Inc()
}

// RecordNotificationDispatched records a dispatch outcome
func RecordNotificationDispatched(outcome string) {
	notificationsDispatched.WithLabelValues(outcome).Inc()
}

// RecordDispatchCycle records the duration and due-set size of one cycle
func RecordDispatchCycle(duration time.Duration, due int) {
	dispatchCycleDuration.Observe(duration.Seconds())
	dueSetSize.Observe(float64(due))
}

// RecordNudges records nudges produced by the proactive sweep
func RecordNudges(n int) {
	nudgesGenerated.Add(float64(n))
}

// SetRegistrySize sets the live job count gauge
func SetRegistrySize(n int) {
	registrySize.Set(float64(n))
}

// RecordThrottleDeferred records a throttle deferral
func RecordThrottleDeferred() {
	throttleDeferred.Inc()
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
