package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "civicmap",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "civicmap",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Geocoder
	GeocoderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "geocoder",
		Name:      "requests_total",
		Help:      "Geocoding calls by operation (search, reverse) and outcome",
	}, []string{"op", "outcome"})

	GeocoderCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "geocoder",
		Name:      "cache_hits_total",
		Help:      "Geocoding calls answered from cache",
	}, []string{"op"})

	// Backend issue feed
	IssueFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "issues",
		Name:      "fetches_total",
		Help:      "Viewport issue fetches by outcome",
	}, []string{"outcome"})

	IssueFetchShape = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "issues",
		Name:      "fetch_shape_total",
		Help:      "Issue list response shapes seen from the backend",
	}, []string{"shape"})

	Votes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "issues",
		Name:      "votes_total",
		Help:      "Votes cast through the gateway",
	}, []string{"kind", "outcome"})

	// Live sessions
	LiveSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "civicmap",
		Subsystem: "live",
		Name:      "sessions_active",
		Help:      "Current number of live map sessions",
	})

	ViewpointUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "live",
		Name:      "viewpoint_updates_total",
		Help:      "Viewpoint replacements by producer (device, search, map, restore, clear)",
	}, []string{"source"})

	StaleResponsesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "live",
		Name:      "stale_responses_discarded_total",
		Help:      "Responses dropped because a newer request was issued",
	}, []string{"component"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "civicmap",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "civicmap",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "civicmap",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		// Route pattern keeps client ids and issue ids out of the label set.
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}

// PoolStat is the subset of pgxpool.Stat the pool gauges read.
type PoolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
}

// UpdateDBPoolMetrics copies pool stats into the db gauges.
func UpdateDBPoolMetrics(s PoolStat) {
	DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
	DBPoolConnsIdle.Set(float64(s.IdleConns()))
	DBPoolConnsOpen.Set(float64(s.TotalConns()))
}
