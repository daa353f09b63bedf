// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file instruments HTTP traffic with Prometheus. Three kinds of traffic
// flow through this server and they behave differently:
//
//   - short JSON endpoints (/health, the error fallbacks)
//   - WAV artifact downloads under /files, payloads up to a few MiB
//   - the /ws upgrade, which hijacks the connection and keeps it open for
//     the lifetime of the client session
//
// All three are counted, but latency and response size are observed only for
// real request/response exchanges: a hijacked websocket would otherwise
// record its entire session lifetime as a single request latency.
//
// Labels are method, registered route path, and status code, which keeps
// cardinality bounded (raw URLs appear only for unmatched 404s). Job-level
// generation metrics live in internal/metrics; this file covers the HTTP
// surface only.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// reqTotal counts requests by method, route path, and status code.
	// Websocket upgrades land here with status "101".
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// reqDuration records request duration in seconds by method and route.
	// Status is omitted to keep histogram cardinality low; hijacked
	// websocket connections are excluded entirely.
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// reqInflight gauges requests currently being processed. Held websocket
	// connections count as in flight for their whole lifetime, which makes
	// the gauge double as a connected-clients indicator.
	reqInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// respBytes captures response sizes by method and route. Buckets cover
	// both small JSON replies and WAV artifacts: thirty seconds of 32 kHz
	// mono 16-bit audio is roughly 1.9 MiB.
	respBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				256, 1 << 10, 16 << 10, 128 << 10, 512 << 10,
				1 << 20, 2 << 20, 4 << 20, 8 << 20,
			},
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(reqTotal, reqDuration, reqInflight, respBytes)
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
// Semantics:
//   - http_requests_total(method, path, status) increments for every request
//   - http_request_duration_seconds and http_response_size_bytes are observed
//     on completion, except for hijacked websocket connections (status 101)
//     and handlers that never report a size
//   - http_requests_inflight tracks handler execution, including held
//     websocket connections
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqInflight.Inc()
		defer reqInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			// No route matched; fall back to the raw URL path.
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := c.Writer.Status()

		reqTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()

		if status == http.StatusSwitchingProtocols {
			// The connection was hijacked. Elapsed time is the websocket
			// session lifetime, not a request latency, and no size is
			// reported.
			return
		}

		reqDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			respBytes.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
