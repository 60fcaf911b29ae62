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
		Namespace: "digitalmaps",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "digitalmaps",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "digitalmaps",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "digitalmaps",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digitalmaps",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digitalmaps",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digitalmaps",
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Cache calls that failed and were ignored",
	}, []string{"call"})

	StaleFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digitalmaps",
		Subsystem: "cache",
		Name:      "stale_fallbacks_total",
		Help:      "Reads served from cache because the store failed",
	}, []string{"operation"})

	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "digitalmaps",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Cache invalidations triggered by writes",
	})

	// Write metrics
	PointWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "digitalmaps",
		Subsystem: "points",
		Name:      "writes_total",
		Help:      "Point writes by operation and outcome",
	}, []string{"operation", "outcome"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "digitalmaps",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "digitalmaps",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "digitalmaps",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})

	DBPoolEmptyAcquires = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "digitalmaps",
		Subsystem: "db",
		Name:      "pool_empty_acquires_total",
		Help:      "Total times a connection had to be established when acquiring from pool",
	})

	DBPoolAcquires = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "digitalmaps",
		Subsystem: "db",
		Name:      "pool_acquires_total",
		Help:      "Total connection acquisitions from the pool",
	})

	DBPoolAcquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "digitalmaps",
		Subsystem: "db",
		Name:      "pool_acquire_duration_seconds",
		Help:      "Average time per acquisition since the previous sample",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
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
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// PoolStat is the subset of pgxpool.Stat the pool gauges read.
type PoolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
	EmptyAcquireCount() int64
	AcquireDuration() time.Duration
	AcquireCount() int64
}

var lastPool struct {
	emptyAcquires int64
	acquires      int64
	waited        time.Duration
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
// Counters are fed with the delta since the previous call.
func UpdateDBPoolMetrics(s PoolStat) {
	DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
	DBPoolConnsIdle.Set(float64(s.IdleConns()))
	DBPoolConnsOpen.Set(float64(s.TotalConns()))

	if d := s.EmptyAcquireCount() - lastPool.emptyAcquires; d > 0 {
		DBPoolEmptyAcquires.Add(float64(d))
	}
	if d := s.AcquireCount() - lastPool.acquires; d > 0 {
		DBPoolAcquires.Add(float64(d))
		if wait := s.AcquireDuration() - lastPool.waited; wait > 0 {
			DBPoolAcquireDuration.Observe(wait.Seconds() / float64(d))
		}
	}
	lastPool.emptyAcquires = s.EmptyAcquireCount()
	lastPool.acquires = s.AcquireCount()
	lastPool.waited = s.AcquireDuration()
}
