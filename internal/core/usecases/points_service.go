package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
	"github.com/samirrijal/digitalmaps/internal/core/ports"
	"github.com/samirrijal/digitalmaps/internal/pkg/logging"
	"github.com/samirrijal/digitalmaps/internal/pkg/metrics"
)

// Cache keys. CacheKeyPointsNear holds the current near-query generation;
// near entries live under CacheKeyPointsNear + ":" + generation + ":...".
const (
	CacheKeyPoints     = "points"
	CacheKeyPointsNear = "points_near"

	staleSuffix = ":stale"
)

const (
	defaultCacheTTL = 5 * time.Minute
	defaultStaleTTL = time.Hour
	generationTTL   = 24 * time.Hour
)

var tracer = otel.Tracer("github.com/samirrijal/digitalmaps/internal/core/usecases")

// PointsService handles point business logic. It is the only component that
// talks to both the store and the cache.
type PointsService struct {
	points    ports.PointRepository
	cache     ports.CacheService
	publisher ports.EventPublisher
	ttl       time.Duration
	staleTTL  time.Duration
	now       func() time.Time
}

// PointsOption configures a PointsService.
type PointsOption func(*PointsService)

// WithCacheTTL sets how long list/near results stay fresh and how long the
// stale fallback copy is kept. A zero staleTTL disables the fallback copy.
func WithCacheTTL(ttl, staleTTL time.Duration) PointsOption {
	return func(s *PointsService) {
		if ttl > 0 {
			s.ttl = ttl
		}
		if staleTTL >= 0 {
			s.staleTTL = staleTTL
		}
	}
}

// WithPublisher publishes a PointEvent after each committed write.
func WithPublisher(p ports.EventPublisher) PointsOption {
	return func(s *PointsService) { s.publisher = p }
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) PointsOption {
	return func(s *PointsService) { s.now = now }
}

// NewPointsService creates a new PointsService. cache may be nil.
func NewPointsService(points ports.PointRepository, cache ports.CacheService, opts ...PointsOption) *PointsService {
	s := &PointsService{
		points:   points,
		cache:    cache,
		ttl:      defaultCacheTTL,
		staleTTL: defaultStaleTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a new point. An empty ID is filled with a fresh UUID.
func (s *PointsService) Create(ctx context.Context, point *domain.Point) (*domain.Point, error) {
	ctx, span := tracer.Start(ctx, "PointsService.Create")
	defer span.End()

	if point.ID == "" {
		point.ID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("point.id", point.ID))

	var created *domain.Point
	err := s.points.InTx(ctx, func(ctx context.Context, tx ports.PointTx) error {
		var err error
		created, err = tx.Create(ctx, point)
		return err
	})
	if err != nil {
		return nil, s.writeFailed(span, "create", err)
	}

	metrics.PointWrites.WithLabelValues("create", "ok").Inc()
	s.invalidate(ctx)
	s.publish(ctx, domain.PointCreated, created.ID)
	return created, nil
}

// Import creates many points in a single transaction and invalidates once.
func (s *PointsService) Import(ctx context.Context, points []domain.Point) (int, error) {
	ctx, span := tracer.Start(ctx, "PointsService.Import")
	defer span.End()
	span.SetAttributes(attribute.Int("points.count", len(points)))

	if len(points) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(points))
	err := s.points.InTx(ctx, func(ctx context.Context, tx ports.PointTx) error {
		for i := range points {
			if points[i].ID == "" {
				points[i].ID = uuid.NewString()
			}
			created, err := tx.Create(ctx, &points[i])
			if err != nil {
				return fmt.Errorf("point %d: %w", i, err)
			}
			ids = append(ids, created.ID)
		}
		return nil
	})
	if err != nil {
		return 0, s.writeFailed(span, "import", err)
	}

	metrics.PointWrites.WithLabelValues("import", "ok").Add(float64(len(ids)))
	s.invalidate(ctx)
	for _, id := range ids {
		s.publish(ctx, domain.PointCreated, id)
	}
	return len(ids), nil
}

// List returns every point, serving from cache when possible. On a store
// failure it degrades to the last cached copy. Writes do not clear that copy,
// so the fallback may be a snapshot from before the last write.
func (s *PointsService) List(ctx context.Context) ([]domain.Point, error) {
	ctx, span := tracer.Start(ctx, "PointsService.List")
	defer span.End()

	if points, ok := s.cached(ctx, CacheKeyPoints); ok && len(points) > 0 {
		metrics.CacheHits.WithLabelValues("list").Inc()
		return points, nil
	}
	metrics.CacheMisses.WithLabelValues("list").Inc()

	points, err := s.points.ListAll(ctx)
	if err != nil {
		return s.fallback(ctx, span, "list",
			&domain.StorageError{Op: "list", Err: err},
			CacheKeyPoints, CacheKeyPoints+staleSuffix)
	}

	s.store(ctx, CacheKeyPoints, CacheKeyPoints+staleSuffix, points)
	return points, nil
}

// Update replaces every field of an existing point and returns the input.
func (s *PointsService) Update(ctx context.Context, point *domain.Point) (*domain.Point, error) {
	ctx, span := tracer.Start(ctx, "PointsService.Update")
	defer span.End()
	span.SetAttributes(attribute.String("point.id", point.ID))

	err := s.points.InTx(ctx, func(ctx context.Context, tx ports.PointTx) error {
		n, err := tx.UpdateByID(ctx, point.ID, point)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, s.writeFailed(span, "update", err)
	}

	metrics.PointWrites.WithLabelValues("update", "ok").Inc()
	s.invalidate(ctx)
	s.publish(ctx, domain.PointUpdated, point.ID)
	return point, nil
}

// Delete removes a point. Deleting an unknown id is not an error.
func (s *PointsService) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "PointsService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("point.id", id))

	var removed int64
	err := s.points.InTx(ctx, func(ctx context.Context, tx ports.PointTx) error {
		var err error
		removed, err = tx.DeleteByID(ctx, id)
		return err
	})
	if err != nil {
		return false, s.writeFailed(span, "delete", err)
	}

	metrics.PointWrites.WithLabelValues("delete", "ok").Inc()
	s.invalidate(ctx)
	if removed > 0 {
		s.publish(ctx, domain.PointDeleted, id)
	}
	return true, nil
}

// Near returns points inside the box around (lat, lon), each flagged open or
// closed at the given time. The flag is derived on every call; only the raw
// points are cached. Like List, a store failure falls back to the last cached
// copy for this location, which may predate the last write.
func (s *PointsService) Near(ctx context.Context, lat, lon, radius int, at domain.TimeOfDay) ([]domain.Point, error) {
	ctx, span := tracer.Start(ctx, "PointsService.Near", trace.WithAttributes(
		attribute.Int("near.lat", lat),
		attribute.Int("near.lon", lon),
		attribute.Int("near.radius", radius),
		attribute.String("near.at", at.String()),
	))
	defer span.End()

	box := domain.BoundsAround(lat, lon, radius)
	slot := fmt.Sprintf("%d:%d:%d", lat, lon, radius)
	key := CacheKeyPointsNear + ":" + s.nearGeneration(ctx) + ":" + slot
	staleKey := CacheKeyPointsNear + staleSuffix + ":" + slot

	points, ok := s.cached(ctx, key)
	if ok && len(points) > 0 {
		metrics.CacheHits.WithLabelValues("near").Inc()
		return s.withOpenState(ctx, points, at), nil
	}
	metrics.CacheMisses.WithLabelValues("near").Inc()

	points, err := s.points.FindInBoundingBox(ctx, box)
	if err != nil {
		points, err = s.fallback(ctx, span, "near",
			&domain.StorageError{Op: "near", Err: err}, key, staleKey)
		if err != nil {
			return nil, err
		}
		return s.withOpenState(ctx, points, at), nil
	}

	s.store(ctx, key, staleKey, points)
	return s.withOpenState(ctx, points, at), nil
}

// withOpenState copies points and sets IsClosed on each copy.
func (s *PointsService) withOpenState(ctx context.Context, points []domain.Point, at domain.TimeOfDay) []domain.Point {
	out := make([]domain.Point, len(points))
	for i, p := range points {
		closed, err := domain.IsClosed(p.OpenHour, p.CloseHour, at)
		if err != nil {
			logging.FromContext(ctx).Warn("unreadable opening hours, treating point as open",
				"point_id", p.ID, "error", err)
			closed = 0
		}
		p.IsClosed = &closed
		out[i] = p
	}
	return out
}

// nearGeneration returns the token that scopes near-query cache entries.
// Deleting CacheKeyPointsNear starts a new generation, orphaning old entries
// until their TTL runs out.
func (s *PointsService) nearGeneration(ctx context.Context) string {
	if s.cache == nil {
		return "0"
	}
	if data, err := s.cache.Get(ctx, CacheKeyPointsNear); err == nil && len(data) > 0 {
		return string(data)
	}
	gen := uuid.NewString()
	if err := s.cache.Set(ctx, CacheKeyPointsNear, []byte(gen), int(generationTTL.Seconds())); err != nil {
		s.cacheFailed(ctx, "set", CacheKeyPointsNear, err)
	}
	return gen
}

// cached reads and decodes a point list. Any cache or decode error is a miss.
func (s *PointsService) cached(ctx context.Context, key string) ([]domain.Point, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			s.cacheFailed(ctx, "get", key, err)
		}
		return nil, false
	}
	var points []domain.Point
	if err := msgpack.Unmarshal(data, &points); err != nil {
		logging.FromContext(ctx).Debug("cache decode failed", "key", key, "error", err)
		return nil, false
	}
	return points, true
}

// store writes the fresh copy under key and the fallback copy under staleKey.
func (s *PointsService) store(ctx context.Context, key, staleKey string, points []domain.Point) {
	if s.cache == nil {
		return
	}
	data, err := msgpack.Marshal(points)
	if err != nil {
		logging.FromContext(ctx).Debug("cache encode failed", "key", key, "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, int(s.ttl.Seconds())); err != nil {
		s.cacheFailed(ctx, "set", key, err)
	}
	if s.staleTTL > 0 {
		if err := s.cache.Set(ctx, staleKey, data, int(s.staleTTL.Seconds())); err != nil {
			s.cacheFailed(ctx, "set", staleKey, err)
		}
	}
}

// fallback serves the first cached copy found under keys after a store error.
// With nothing cached the store error is returned.
func (s *PointsService) fallback(ctx context.Context, span trace.Span, op string, storeErr error, keys ...string) ([]domain.Point, error) {
	span.RecordError(storeErr)
	for _, key := range keys {
		if points, ok := s.cached(ctx, key); ok {
			metrics.StaleFallbacks.WithLabelValues(op).Inc()
			logging.FromContext(ctx).Warn("store unavailable, serving cached points",
				"operation", op, "key", key, "count", len(points), "error", storeErr)
			return points, nil
		}
	}
	span.SetStatus(codes.Error, storeErr.Error())
	logging.FromContext(ctx).Error("store unavailable and nothing cached", "operation", op, "error", storeErr)
	return nil, storeErr
}

// invalidate drops the list entry and the near generation. The stale copies
// are kept for the fallback path. Best effort.
func (s *PointsService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	metrics.CacheInvalidations.Inc()
	for _, key := range []string{CacheKeyPoints, CacheKeyPointsNear} {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.cacheFailed(ctx, "delete", key, err)
		}
	}
}

func (s *PointsService) publish(ctx context.Context, typ domain.PointEventType, id string) {
	if s.publisher == nil {
		return
	}
	event := &domain.PointEvent{Type: typ, PointID: id, Time: s.now().UTC()}
	if err := s.publisher.PublishPointEvent(ctx, event); err != nil {
		logging.FromContext(ctx).Warn("publish point event failed",
			"type", string(typ), "point_id", id, "error", err)
	}
}

// writeFailed classifies a failed write. Anything that is not a not-found
// becomes a *domain.StorageError.
func (s *PointsService) writeFailed(span trace.Span, op string, err error) error {
	span.RecordError(err)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.PointWrites.WithLabelValues(op, "not_found").Inc()
		return fmt.Errorf("%s point: %w", op, err)
	}
	span.SetStatus(codes.Error, err.Error())
	metrics.PointWrites.WithLabelValues(op, "error").Inc()
	if domain.IsStorageError(err) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}

func (s *PointsService) cacheFailed(ctx context.Context, call, key string, err error) {
	metrics.CacheErrors.WithLabelValues(call).Inc()
	logging.FromContext(ctx).Warn("cache call failed", "call", call, "key", key, "error", err)
}
