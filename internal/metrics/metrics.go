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
			Name: "giftwatch_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "giftwatch_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	giftsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftwatch_gifts_ingested_total",
			Help: "Total gift events stored by command",
		},
		[]string{"cmd"},
	)

	duplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "giftwatch_duplicates_skipped_total",
			Help: "Raw events dropped as duplicates at the ingestion boundary",
		},
	)

	thanksTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftwatch_thanks_triggered_total",
			Help: "Threshold triggers that enqueued an acknowledgement",
		},
		[]string{"kind"},
	)

	thanksSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftwatch_thanks_suppressed_total",
			Help: "Triggers suppressed by the per-donor daily cap",
		},
		[]string{"kind"},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftwatch_messages_sent_total",
			Help: "Outbound chat messages by final status",
		},
		[]string{"status"},
	)

	sendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "giftwatch_send_latency_seconds",
			Help:    "Chat send round-trip latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	queueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "giftwatch_queue_wait_seconds",
			Help:    "Time messages spend in the queue before sending",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "giftwatch_rate_limit_rejections_total",
			Help: "API requests rejected by the rate limiter",
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

// RecordGiftIngested records a stored gift event
func RecordGiftIngested(cmd string) {
	giftsIngested.WithLabelValues(cmd).Inc()
}

// RecordDuplicateSkipped records a raw event dropped by dedup
func RecordDuplicateSkipped() {
	duplicatesSkipped.Inc()
}

// RecordThankTriggered records an acknowledgement enqueue
func RecordThankTriggered(kind string) {
	thanksTriggered.WithLabelValues(kind).Inc()
}

// RecordThankSuppressed records a trigger stopped by the daily cap
func RecordThankSuppressed(kind string) {
	thanksSuppressed.WithLabelValues(kind).Inc()
}

// RecordMessageSent records the outcome of a dispatch cycle send
func RecordMessageSent(status string) {
	messagesSent.WithLabelValues(status).Inc()
}

// RecordSendLatency records chat send round-trip time
func RecordSendLatency(d time.Duration) {
	sendLatency.Observe(d.Seconds())
}

// RecordQueueWait records enqueue-to-send delay
func RecordQueueWait(d time.Duration) {
	queueWait.Observe(d.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
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
