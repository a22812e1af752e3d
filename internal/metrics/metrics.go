// Package metrics exposes Prometheus collectors for the router.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LLMBuckets covers upstream latencies from 100ms to 2 minutes.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by route and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yagpt_router_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yagpt_router_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// UpstreamRequestsTotal counts calls to the upstream API by endpoint and status.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yagpt_router_upstream_requests_total",
			Help: "Upstream API requests",
		},
		[]string{"endpoint", "status"},
	)

	// StreamingConnections tracks active SSE streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yagpt_router_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// StreamChunksTotal counts downstream stream events by kind (text, tool_call).
	StreamChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yagpt_router_stream_chunks_total",
			Help: "Downstream stream chunks emitted",
		},
		[]string{"kind"},
	)

	// StreamFragmentsSkipped counts upstream fragments dropped as malformed.
	StreamFragmentsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yagpt_router_stream_fragments_skipped_total",
			Help: "Malformed upstream stream fragments skipped",
		},
	)

	// ImagePollsTotal counts operation status polls by outcome.
	ImagePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yagpt_router_image_polls_total",
			Help: "Image operation polls",
		},
		[]string{"outcome"},
	)

	// TokensTotal counts tokens by direction (prompt, completion).
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yagpt_router_tokens_total",
			Help: "Token count",
		},
		[]string{"model", "direction"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		UpstreamRequestsTotal,
		StreamingConnections,
		StreamChunksTotal,
		StreamFragmentsSkipped,
		ImagePollsTotal,
		TokensTotal,
	)
}

// Middleware records request counts and latencies per echo route. statusOf
// maps a handler error to the status the error handler will write; nil uses
// echo's HTTPError code and 500 otherwise.
func Middleware(statusOf func(error) int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = errorStatus(err, statusOf)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			RequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			RequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func errorStatus(err error, statusOf func(error) int) int {
	if statusOf != nil {
		return statusOf(err)
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
