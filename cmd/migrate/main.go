package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/digitalmaps/internal/pkg/config"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down>")
	}

	cfg, err := config.Load("digitalmaps-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		log.Printf("driver %q creates its schema on open, nothing to do", cfg.Database.Driver)
		return
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "up":
		runMigrations(ctx, pool, "*.up.sql", false)
	case "down":
		runMigrations(ctx, pool, "*.down.sql", true)
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

// runMigrations applies every file matching pattern in name order, or in
// reverse order when rolling back.
func runMigrations(ctx context.Context, pool *pgxpool.Pool, pattern string, reverse bool) {
	files, err := filepath.Glob(filepath.Join(migrationsDir, pattern))
	if err != nil {
		log.Fatalf("glob %s: %v", pattern, err)
	}
	if len(files) == 0 {
		log.Fatalf("no migrations matching %s in %s", pattern, migrationsDir)
	}
	sort.Strings(files)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}

		_, err = pool.Exec(ctx, string(data))
		if err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}

		fmt.Printf("OK  %s\n", f)
	}

	log.Printf("%d migrations applied", len(files))
}
