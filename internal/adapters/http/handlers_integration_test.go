//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samirrijal/digitalmaps/internal/adapters/boltcache"
	handler "github.com/samirrijal/digitalmaps/internal/adapters/http"
	"github.com/samirrijal/digitalmaps/internal/adapters/postgres"
	"github.com/samirrijal/digitalmaps/internal/core/domain"
	"github.com/samirrijal/digitalmaps/internal/core/usecases"
	"github.com/samirrijal/digitalmaps/internal/pkg/config"
)

// setupTestDB connects to the test database. The points table must exist
// (run cmd/migrate up first).
func setupTestDB(t *testing.T) *postgres.DB {
	cfg, err := config.Load("digitalmaps-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Database.DSN(), 5)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// setupTestDeps wires the real store and a throwaway bolt cache.
func setupTestDeps(t *testing.T, db *postgres.DB) *handler.Dependencies {
	cache, err := boltcache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	return &handler.Dependencies{
		Points: usecases.NewPointsService(postgres.NewPointRepo(db), cache),
		DB:     db,
		Cache:  cache,
	}
}

// seedTestPoint inserts a point directly and removes it when the test ends.
func seedTestPoint(t *testing.T, db *postgres.DB, name string, lat, lon int, open, closing *string) string {
	ctx := context.Background()
	p := domain.NewPoint(name, lat, lon, open, closing)
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO points (id, name, latitude, longitude, open_hour, close_hour)
		VALUES ($1, $2, $3, $4, $5::time, $6::time)
	`, p.ID, p.Name, p.Latitude, p.Longitude, p.OpenHour, p.CloseHour); err != nil {
		t.Fatalf("seed point: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM points WHERE id = $1`, p.ID)
	})
	return p.ID
}

// TestPointLifecycle_Integration creates, lists, updates and deletes a point
// through the HTTP layer against Postgres.
func TestPointLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	app := setupApp(setupTestDeps(t, db))

	name := "integ_" + time.Now().Format("20060102150405.000")
	status, body := do(t, app, "POST", "/v1/points",
		`{"name":"`+name+`","latitude":-89,"longitude":179,"open_hour":"08:17","close_hour":"18:21"}`)
	if status != 201 {
		t.Fatalf("create: expected 201, got %d: %s", status, body)
	}
	var created struct {
		Data struct {
			Point struct {
				UUID string `json:"uuid"`
			} `json:"point"`
		} `json:"data"`
	}
	_ = json.Unmarshal(body, &created)
	id := created.Data.Point.UUID
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM points WHERE id = $1`, id)
	})

	// Listed exactly once, hours normalized by the TIME column.
	status, body = do(t, app, "GET", "/v1/points", "")
	if status != 200 {
		t.Fatalf("list: expected 200, got %d", status)
	}
	var points []domain.Point
	_ = json.Unmarshal(body, &points)
	found := 0
	for _, p := range points {
		if p.ID == id {
			found++
			if p.OpenHour == nil || *p.OpenHour != "08:17:00" {
				t.Errorf("expected open_hour 08:17:00, got %v", p.OpenHour)
			}
		}
	}
	if found != 1 {
		t.Fatalf("expected point listed once, got %d", found)
	}

	// Update is visible on the next read.
	status, _ = do(t, app, "PUT", "/v1/points/"+id, `{"name":"`+name+`_v2","latitude":-89,"longitude":179}`)
	if status != 200 {
		t.Fatalf("update: expected 200, got %d", status)
	}
	_, body = do(t, app, "GET", "/v1/points", "")
	if !strings.Contains(string(body), name+"_v2") {
		t.Error("expected updated name after invalidation")
	}

	// Delete twice; both succeed.
	for i := 0; i < 2; i++ {
		if status, _ := do(t, app, "DELETE", "/v1/points/"+id, ""); status != 200 {
			t.Fatalf("delete #%d: expected 200, got %d", i+1, status)
		}
	}
	_, body = do(t, app, "GET", "/v1/points", "")
	if strings.Contains(string(body), id) {
		t.Error("expected deleted point to be gone")
	}
}

// TestNearPoints_Integration checks the bounding box and open flag against Postgres.
func TestNearPoints_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDB(t)
	open, closing := "08:17", "18:21"
	inside := seedTestPoint(t, db, "integ_inside", 85, -175, &open, &closing)
	outside := seedTestPoint(t, db, "integ_outside", 80, -175, nil, nil)

	app := setupApp(setupTestDeps(t, db))

	req := httptest.NewRequest("GET", "/v1/points/near/85/-175/2/19:22", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var env struct {
		Data []domain.Point `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	var sawInside bool
	for _, p := range env.Data {
		if p.ID == outside {
			t.Error("point outside the box was returned")
		}
		if p.ID == inside {
			sawInside = true
			if p.IsClosed == nil || *p.IsClosed != 1 {
				t.Errorf("expected inside point closed at 19:22, got %v", p.IsClosed)
			}
		}
	}
	if !sawInside {
		t.Error("expected point inside the box")
	}
}
