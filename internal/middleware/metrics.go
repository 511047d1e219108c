package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "HTTP requests by surface, route template and status",
		},
		[]string{"surface", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"surface", "method", "path"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6), // 100B to 10MB
		},
		[]string{"surface", "method", "path"},
	)

	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_http_active_requests",
			Help: "Number of in-flight HTTP requests, websocket upgrades excluded",
		},
	)

	wsUpgrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_upgrade_requests_total",
			Help: "Websocket upgrade attempts by result",
		},
		[]string{"result"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_db_connections_active",
			Help: "Number of active database connections",
		},
	)
)

const (
	surfaceAPI = "api"
	surfaceWS  = "ws"
	surfaceOps = "ops"
)

// Metrics returns a gin middleware that collects Prometheus metrics.
// Websocket upgrades are counted by result only; the socket outlives the handler.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		path := normalizePath(c.FullPath())
		surface := routeSurface(path)
		if surface == surfaceWS {
			c.Next()
			wsUpgrades.WithLabelValues(upgradeResult(c)).Inc()
			return
		}

		start := time.Now()
		activeRequests.Inc()

		c.Next()

		activeRequests.Dec()
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(surface, c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(surface, c.Request.Method, path).Observe(time.Since(start).Seconds())
		httpResponseSize.WithLabelValues(surface, c.Request.Method, path).Observe(float64(c.Writer.Size()))
	}
}

// SetDBConnectionsActive updates the DB connection gauge (call from main)
func SetDBConnectionsActive(count float64) {
	dbConnectionsActive.Set(count)
}

// normalizePath returns the route template, e.g. /api/v1/chat/rooms/:id.
// Unmatched requests share one label so scanners cannot inflate cardinality.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

func routeSurface(path string) string {
	switch {
	case strings.HasPrefix(path, "/ws/"):
		return surfaceWS
	case strings.HasPrefix(path, "/api/"):
		return surfaceAPI
	default:
		return surfaceOps
	}
}

// upgradeResult reads the outcome of a websocket handshake. A hijacked
// connection never has its status written through gin.
func upgradeResult(c *gin.Context) string {
	status := c.Writer.Status()
	switch {
	case status == 401 || status == 403:
		return "unauthorized"
	case status >= 400:
		return "rejected"
	default:
		return "accepted"
	}
}
