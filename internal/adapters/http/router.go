package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/digitalmaps/internal/pkg/metrics"
)

// legacySunset is when the /api/points aliases go away.
var legacySunset = time.Date(2027, time.June, 30, 0, 0, 0, 0, time.UTC)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	reqTimeout := deps.RequestTimeout
	if reqTimeout <= 0 {
		reqTimeout = 15 * time.Second
	}
	rateLimit := deps.RateLimit
	if rateLimit <= 0 {
		rateLimit = 120
	}

	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting per IP
	app.Use(limiter.New(limiter.Config{
		Max:        rateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1, bounded per request
	v1 := app.Group("/v1")
	registerPointRoutes(v1, deps, reqTimeout)

	// Original paths, kept as deprecated aliases
	api := app.Group("/api", DeprecationMiddleware(legacyPointRoutes(legacySunset)))
	registerPointRoutes(api, deps, reqTimeout)

	// GraphQL
	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), reqTimeout))

	// API documentation (Swagger UI)
	SetupDocs(app, deps.SpecPath)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if deps.NATS == nil {
			return newError(c, fiber.StatusServiceUnavailable, "unavailable", "event stream is not configured")
		}
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}

func registerPointRoutes(r fiber.Router, deps *Dependencies, reqTimeout time.Duration) {
	r.Post("/points", timeout.NewWithContext(CreatePointHandler(deps), reqTimeout))
	r.Get("/points", timeout.NewWithContext(ListPointsHandler(deps), reqTimeout))
	r.Get("/points/near/:latitude/:longitude/:distance/:hour", timeout.NewWithContext(NearPointsHandler(deps), reqTimeout))
	r.Put("/points/:id", timeout.NewWithContext(UpdatePointHandler(deps), reqTimeout))
	r.Delete("/points/:id", timeout.NewWithContext(DeletePointHandler(deps), reqTimeout))
}
