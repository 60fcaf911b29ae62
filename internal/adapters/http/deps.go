package http

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/digitalmaps/internal/core/ports"
	"github.com/samirrijal/digitalmaps/internal/core/usecases"
)

// Pinger is a store that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Points *usecases.PointsService
	NATS   *nats.Conn
	DB     Pinger
	Cache  ports.CacheService

	// RequestTimeout bounds each /v1 request. Zero means 15s.
	RequestTimeout time.Duration
	// RateLimit is requests per minute per IP. Zero means 120.
	RateLimit int
	// SpecPath is the OpenAPI document served under /docs.
	SpecPath string
}
