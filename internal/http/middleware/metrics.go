package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are labelled by method and route pattern (c.FullPath), never by
// raw URL, so conversation and document ids cannot blow up cardinality.
// Unmatched requests fall back to the raw path.
var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// answerLat covers the routes that may wait on a language model; the
	// default buckets stop at 10s, well short of a slow completion.
	answerLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_answer_duration_seconds",
			Help:    "Duration of answer-producing requests in seconds, by outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"path", "outcome"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		},
		[]string{"method", "path"},
	)

	// httpReplays counts answers served from an Idempotency-Key record,
	// each one a provider call and a charge that did not happen twice.
	httpReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_idempotent_replays_total",
			Help: "Total number of requests replayed from an Idempotency-Key record.",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, answerLat, httpInflight, httpRespSize, httpReplays)
}

// Metrics instruments every request. Answer-producing routes (AnswerRoutes)
// additionally land in http_answer_duration_seconds with an outcome of
// "ok", "replayed", "client_error" or "server_error".
func Metrics() gin.HandlerFunc {
	isAnswer := AnswerRoutes()
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := c.Writer.Status()

		httpReqs.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpLat.WithLabelValues(method, path).Observe(dur)
		// size is -1 when nothing was written
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
		replayed := IsReplay(c)
		if replayed {
			httpReplays.WithLabelValues(path).Inc()
		}
		if isAnswer(c) {
			answerLat.WithLabelValues(path, answerOutcome(status, replayed)).Observe(dur)
		}
	}
}

func answerOutcome(status int, replayed bool) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	case replayed:
		return "replayed"
	default:
		return "ok"
	}
}
