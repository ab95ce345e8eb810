// Package metrics provides Prometheus metrics for the image server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageserve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imageserve_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Image serving metrics
	imagesServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageserve_images_served_total",
			Help: "Total number of image fetches",
		},
		[]string{"status"},
	)

	imageBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageserve_image_bytes_served_total",
			Help: "Total image bytes served",
		},
	)

	// Session metrics
	directoryLoadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageserve_directory_loads_total",
			Help: "Total number of directory loads",
		},
	)

	sessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageserve_session_active",
			Help: "Whether a directory session is currently active (0 or 1)",
		},
	)

	sessionImageCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageserve_session_image_count",
			Help: "Number of images counted at load time for the active session",
		},
	)

	timerExpirationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageserve_timer_expirations_total",
			Help: "Total number of sessions unloaded by the timeout timer",
		},
	)

	staleTimerWakeupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageserve_stale_timer_wakeups_total",
			Help: "Total number of superseded timers that woke up as no-ops",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imageserve_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageserve_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordImageServed records an image fetch.
func RecordImageServed(bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	imagesServedTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		imageBytesServed.Add(float64(bytes))
	}
}

// RecordDirectoryLoad records a directory load and the resulting session state.
func RecordDirectoryLoad(imageCount int) {
	directoryLoadsTotal.Inc()
	SetSessionState(true, imageCount)
}

// SetSessionState sets the active-session gauges.
func SetSessionState(active bool, imageCount int) {
	if active {
		sessionActive.Set(1)
	} else {
		sessionActive.Set(0)
	}
	sessionImageCount.Set(float64(imageCount))
}

// RecordTimerExpiration records a session unloaded by its timer.
func RecordTimerExpiration() {
	timerExpirationsTotal.Inc()
}

// RecordStaleTimerWakeup records a superseded timer waking up as a no-op.
func RecordStaleTimerWakeup() {
	staleTimerWakeupsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
