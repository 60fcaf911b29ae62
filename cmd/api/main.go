package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/digitalmaps/internal/adapters/boltcache"
	"github.com/samirrijal/digitalmaps/internal/adapters/http"
	natsadapter "github.com/samirrijal/digitalmaps/internal/adapters/nats"
	"github.com/samirrijal/digitalmaps/internal/adapters/postgres"
	"github.com/samirrijal/digitalmaps/internal/adapters/sqlite"
	"github.com/samirrijal/digitalmaps/internal/adapters/valkey"
	"github.com/samirrijal/digitalmaps/internal/core/ports"
	"github.com/samirrijal/digitalmaps/internal/core/usecases"
	"github.com/samirrijal/digitalmaps/internal/pkg/config"
	"github.com/samirrijal/digitalmaps/internal/pkg/logging"
	"github.com/samirrijal/digitalmaps/internal/pkg/metrics"
	"github.com/samirrijal/digitalmaps/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("digitalmaps-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Store
	var (
		repo ports.PointRepository
		ping http.Pinger
	)
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		r, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer r.Close()
		repo, ping = r, r
		slog.Info("using sqlite store", "path", cfg.Database.SQLitePath)
	default:
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		repo, ping = postgres.NewPointRepo(db), db
		go reportPoolStats(ctx, db)
	}

	// Cache. Left nil when unavailable so the service reads straight through.
	cache, closeCache := openCache(ctx, cfg)
	defer closeCache()

	// NATS
	var (
		opts = []usecases.PointsOption{usecases.WithCacheTTL(cfg.Cache.TTL, cfg.Cache.StaleTTL)}
		deps = &http.Dependencies{
			DB:             ping,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
			RateLimit:      cfg.Server.RateLimit,
		}
	)
	if cfg.NATS.Enabled {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			defer pub.Close()
			opts = append(opts, usecases.WithPublisher(pub))
			deps.NATS = pub.Conn()
		}
	}

	deps.Cache = cache
	deps.Points = usecases.NewPointsService(repo, cache, opts...)

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Digital Maps API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, If-None-Match",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "store", cfg.Database.Driver, "cache", cfg.Cache.Driver)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// openCache returns the configured cache and its close func. The cache is
// nil for driver none or when nothing could be opened. Valkey falls back to
// bolt when it is unreachable and a bolt path is configured.
func openCache(ctx context.Context, cfg *config.Config) (ports.CacheService, func()) {
	noop := func() {}
	switch cfg.Cache.Driver {
	case config.CacheValkey:
		vc, err := valkey.New(cfg.Valkey.Addr)
		if err == nil {
			if err = vc.Ping(ctx); err == nil {
				return vc, vc.Close
			}
			vc.Close()
		}
		slog.Warn("valkey unavailable", "addr", cfg.Valkey.Addr, "error", err)
		if cfg.Cache.BoltPath == "" {
			return nil, noop
		}
		slog.Info("falling back to bolt cache", "path", cfg.Cache.BoltPath)
		fallthrough
	case config.CacheBolt:
		bc, err := boltcache.Open(cfg.Cache.BoltPath)
		if err != nil {
			slog.Warn("bolt cache unavailable", "path", cfg.Cache.BoltPath, "error", err)
			return nil, noop
		}
		go sweepExpired(ctx, bc)
		return bc, func() { bc.Close() }
	default:
		return nil, noop
	}
}

// sweepExpired drops expired bolt entries once a minute until ctx ends.
func sweepExpired(ctx context.Context, bc *boltcache.Cache) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := bc.Sweep(ctx)
			if err != nil {
				slog.Warn("cache sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("cache sweep", "removed", n)
			}
		}
	}
}

func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Stat())
		}
	}
}
