package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/digitalmaps/internal/adapters/boltcache"
	"github.com/samirrijal/digitalmaps/internal/adapters/postgres"
	"github.com/samirrijal/digitalmaps/internal/adapters/sqlite"
	"github.com/samirrijal/digitalmaps/internal/adapters/valkey"
	"github.com/samirrijal/digitalmaps/internal/core/domain"
	"github.com/samirrijal/digitalmaps/internal/core/ports"
	"github.com/samirrijal/digitalmaps/internal/core/usecases"
	"github.com/samirrijal/digitalmaps/internal/pkg/config"
	"github.com/samirrijal/digitalmaps/internal/pkg/logging"
)

var (
	adjectives = []string{"Old", "Blue", "Corner", "Little", "Grand", "Hidden", "Sunny", "Green", "Royal", "Quiet"}
	nouns      = []string{"Bakery", "Cafe", "Library", "Market", "Pharmacy", "Bookshop", "Gallery", "Diner", "Garden", "Museum"}
)

func main() {
	n := flag.Int("n", 50, "number of points to generate")
	chunk := flag.Int("chunk", 25, "points per import transaction")
	workers := flag.Int("workers", 4, "concurrent import transactions")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	if *n <= 0 || *chunk <= 0 || *workers <= 0 {
		log.Fatal("usage: seed [-n 50] [-chunk 25] [-workers 4] [-seed N]")
	}

	cfg, err := config.Load("digitalmaps-seed")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	var repo ports.PointRepository
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		r, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer r.Close()
		repo = r
	default:
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		repo = postgres.NewPointRepo(db)
	}

	// The cache is only touched for invalidation; an unreachable one just
	// leaves readers on cached data until the TTL runs out.
	var cache ports.CacheService
	switch cfg.Cache.Driver {
	case config.CacheValkey:
		vc, err := valkey.New(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable, cache not invalidated", "error", err)
		} else {
			defer vc.Close()
			cache = vc
		}
	case config.CacheBolt:
		bc, err := boltcache.Open(cfg.Cache.BoltPath)
		if err != nil {
			slog.Warn("bolt cache unavailable, cache not invalidated", "error", err)
		} else {
			defer bc.Close()
			cache = bc
		}
	}

	svc := usecases.NewPointsService(repo, cache)
	points := generate(rand.New(rand.NewSource(*seed)), *n)

	bar := progressbar.NewOptions(len(points),
		progressbar.OptionSetDescription("importing points"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for lo := 0; lo < len(points); lo += *chunk {
		batch := points[lo:min(lo+*chunk, len(points))]
		g.Go(func() error {
			count, err := svc.Import(gctx, batch)
			if err != nil {
				return err
			}
			return bar.Add(count)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("import: %v", err)
	}

	fmt.Printf("seeded %d points in %s (seed %d)\n", len(points), time.Since(start).Round(time.Millisecond), *seed)
}

// generate builds n random points. About a fifth have no opening hours and
// some spans wrap past midnight.
func generate(r *rand.Rand, n int) []domain.Point {
	points := make([]domain.Point, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s %s", adjectives[r.Intn(len(adjectives))], nouns[r.Intn(len(nouns))])
		var open, closing *string
		if r.Intn(5) > 0 {
			o := fmt.Sprintf("%02d:%02d", r.Intn(24), r.Intn(60))
			c := fmt.Sprintf("%02d:%02d", r.Intn(24), r.Intn(60))
			open, closing = &o, &c
		}
		points = append(points, *domain.NewPoint(name, r.Intn(181)-90, r.Intn(361)-180, open, closing))
	}
	return points
}
