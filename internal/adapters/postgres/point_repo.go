package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
	"github.com/samirrijal/digitalmaps/internal/core/ports"
)

const pointColumns = `id::text, name, latitude, longitude,
	open_hour::text, close_hour::text, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PointRepo implements ports.PointRepository with pgx.
type PointRepo struct {
	db *DB
}

// NewPointRepo creates a new PointRepo.
func NewPointRepo(db *DB) *PointRepo {
	return &PointRepo{db: db}
}

// InTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (r *PointRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.PointTx) error) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		return fn(ctx, &pointTx{q: tx})
	})
}

// ListAll returns every point ordered by name.
func (r *PointRepo) ListAll(ctx context.Context) ([]domain.Point, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+pointColumns+` FROM points ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}
	return collectPoints(rows)
}

// FindInBoundingBox returns points inside the inclusive box.
func (r *PointRepo) FindInBoundingBox(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+pointColumns+`
		FROM points
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		ORDER BY name, id
	`, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	if err != nil {
		return nil, fmt.Errorf("find in box: %w", err)
	}
	return collectPoints(rows)
}

type pointTx struct {
	q querier
}

func (t *pointTx) Create(ctx context.Context, p *domain.Point) (*domain.Point, error) {
	var out domain.Point
	err := scanPoint(t.q.QueryRow(ctx, `
		INSERT INTO points (id, name, latitude, longitude, open_hour, close_hour)
		VALUES ($1, $2, $3, $4, $5::time, $6::time)
		RETURNING `+pointColumns,
		p.ID, p.Name, p.Latitude, p.Longitude, nullHour(p.OpenHour), nullHour(p.CloseHour),
	), &out)
	if err != nil {
		return nil, fmt.Errorf("insert point: %w", err)
	}
	return &out, nil
}

func (t *pointTx) UpdateByID(ctx context.Context, id string, p *domain.Point) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE points
		SET name = $2, latitude = $3, longitude = $4,
		    open_hour = $5::time, close_hour = $6::time, updated_at = now()
		WHERE id = $1
	`, id, p.Name, p.Latitude, p.Longitude, nullHour(p.OpenHour), nullHour(p.CloseHour))
	if err != nil {
		return 0, fmt.Errorf("update point: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pointTx) DeleteByID(ctx context.Context, id string) (int64, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM points WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete point: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPoint(row pgx.Row, p *domain.Point) error {
	return row.Scan(
		&p.ID, &p.Name, &p.Latitude, &p.Longitude,
		&p.OpenHour, &p.CloseHour, &p.CreatedAt, &p.UpdatedAt,
	)
}

func collectPoints(rows pgx.Rows) ([]domain.Point, error) {
	defer rows.Close()

	var points []domain.Point
	for rows.Next() {
		var p domain.Point
		if err := scanPoint(rows, &p); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// nullHour maps an absent or empty hour to SQL NULL.
func nullHour(h *string) any {
	if h == nil || *h == "" {
		return nil
	}
	return *h
}
