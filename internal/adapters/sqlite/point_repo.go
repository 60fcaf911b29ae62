// Package sqlite is an embedded PointRepository for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
	"github.com/samirrijal/digitalmaps/internal/core/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS points (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	latitude   INTEGER NOT NULL,
	longitude  INTEGER NOT NULL,
	open_hour  TEXT,
	close_hour TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS points_lat_lon_idx ON points (latitude, longitude);
`

const pointColumns = `id, name, latitude, longitude, open_hour, close_hour, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PointRepo implements ports.PointRepository on SQLite.
type PointRepo struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*PointRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PointRepo{db: db, now: time.Now}, nil
}

// Ping checks the database is reachable.
func (r *PointRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *PointRepo) Close() error {
	return r.db.Close()
}

// InTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (r *PointRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.PointTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(ctx, &pointTx{q: tx, now: r.now}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListAll returns every point ordered by name.
func (r *PointRepo) ListAll(ctx context.Context) ([]domain.Point, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pointColumns+` FROM points ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}
	return collectPoints(rows)
}

// FindInBoundingBox returns points inside the inclusive box.
func (r *PointRepo) FindInBoundingBox(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pointColumns+`
		FROM points
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		ORDER BY name, id
	`, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	if err != nil {
		return nil, fmt.Errorf("find in box: %w", err)
	}
	return collectPoints(rows)
}

type pointTx struct {
	q   querier
	now func() time.Time
}

func (t *pointTx) Create(ctx context.Context, p *domain.Point) (*domain.Point, error) {
	open, closing, err := normalizeHours(p)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO points (`+pointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Latitude, p.Longitude, nullable(open), nullable(closing), now, now); err != nil {
		return nil, fmt.Errorf("insert point: %w", err)
	}

	out := *p
	out.OpenHour, out.CloseHour = open, closing
	out.IsClosed = nil
	out.CreatedAt, out.UpdatedAt = now, now
	return &out, nil
}

func (t *pointTx) UpdateByID(ctx context.Context, id string, p *domain.Point) (int64, error) {
	open, closing, err := normalizeHours(p)
	if err != nil {
		return 0, err
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE points
		SET name = ?, latitude = ?, longitude = ?, open_hour = ?, close_hour = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Latitude, p.Longitude, nullable(open), nullable(closing), t.now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("update point: %w", err)
	}
	return res.RowsAffected()
}

func (t *pointTx) DeleteByID(ctx context.Context, id string) (int64, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM points WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete point: %w", err)
	}
	return res.RowsAffected()
}

// normalizeHours stores hours as HH:MM:SS so reads match the Postgres TIME output.
func normalizeHours(p *domain.Point) (*string, *string, error) {
	open, err := domain.NormalizeHour(p.OpenHour)
	if err != nil {
		return nil, nil, fmt.Errorf("open_hour: %w", err)
	}
	closing, err := domain.NormalizeHour(p.CloseHour)
	if err != nil {
		return nil, nil, fmt.Errorf("close_hour: %w", err)
	}
	return open, closing, nil
}

func nullable(h *string) sql.NullString {
	if h == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *h, Valid: true}
}

func collectPoints(rows *sql.Rows) ([]domain.Point, error) {
	defer rows.Close()

	var points []domain.Point
	for rows.Next() {
		var (
			p             domain.Point
			open, closing sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Latitude, &p.Longitude,
			&open, &closing, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if open.Valid {
			p.OpenHour = &open.String
		}
		if closing.Valid {
			p.CloseHour = &closing.String
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
