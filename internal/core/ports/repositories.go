package ports

import (
	"context"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
)

// PointRepository persists points. Writes go through InTx.
type PointRepository interface {
	// InTx runs fn inside a transaction. It commits when fn returns nil and
	// rolls back otherwise, returning fn's error unchanged.
	InTx(ctx context.Context, fn func(ctx context.Context, tx PointTx) error) error
	ListAll(ctx context.Context) ([]domain.Point, error)
	FindInBoundingBox(ctx context.Context, box domain.Bounds) ([]domain.Point, error)
}

// PointTx is the write side of PointRepository, scoped to one transaction.
type PointTx interface {
	Create(ctx context.Context, point *domain.Point) (*domain.Point, error)
	// UpdateByID replaces every field of the point and reports rows affected.
	UpdateByID(ctx context.Context, id string, point *domain.Point) (int64, error)
	DeleteByID(ctx context.Context, id string) (int64, error)
}
