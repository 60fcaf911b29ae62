package usecases_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
	"github.com/samirrijal/digitalmaps/internal/core/ports"
	"github.com/samirrijal/digitalmaps/internal/core/usecases"
)

// --- Mock PointRepository ---

type mockPointRepo struct {
	createFn    func(ctx context.Context, p *domain.Point) (*domain.Point, error)
	updateFn    func(ctx context.Context, id string, p *domain.Point) (int64, error)
	deleteFn    func(ctx context.Context, id string) (int64, error)
	listFn      func(ctx context.Context) ([]domain.Point, error)
	findInBoxFn func(ctx context.Context, box domain.Bounds) ([]domain.Point, error)

	commits   int
	rollbacks int
}

func (m *mockPointRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx ports.PointTx) error) error {
	if err := fn(ctx, m); err != nil {
		m.rollbacks++
		return err
	}
	m.commits++
	return nil
}

func (m *mockPointRepo) Create(ctx context.Context, p *domain.Point) (*domain.Point, error) {
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	return p, nil
}

func (m *mockPointRepo) UpdateByID(ctx context.Context, id string, p *domain.Point) (int64, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, p)
	}
	return 1, nil
}

func (m *mockPointRepo) DeleteByID(ctx context.Context, id string) (int64, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return 1, nil
}

func (m *mockPointRepo) ListAll(ctx context.Context) ([]domain.Point, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockPointRepo) FindInBoundingBox(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
	if m.findInBoxFn != nil {
		return m.findInBoxFn(ctx, box)
	}
	return nil, nil
}

// --- In-memory CacheService ---

type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]int
	deleted []string
	failAll bool
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]int{}}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return nil, errors.New("connection refused")
	}
	v, ok := c.data[key]
	if !ok {
		return nil, ports.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errors.New("connection refused")
	}
	c.data[key] = value
	c.ttls[key] = ttlSeconds
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errors.New("connection refused")
	}
	c.deleted = append(c.deleted, key)
	delete(c.data, key)
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *memCache) keysWithPrefix(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// --- Recording EventPublisher ---

type recordingPublisher struct {
	events []domain.PointEvent
	err    error
}

func (p *recordingPublisher) PublishPointEvent(ctx context.Context, e *domain.PointEvent) error {
	p.events = append(p.events, *e)
	return p.err
}

// --- Helpers ---

func strPtr(s string) *string { return &s }

func samplePoint(id string) domain.Point {
	return domain.Point{
		ID:        id,
		Name:      "test",
		Latitude:  15,
		Longitude: 30,
		OpenHour:  strPtr("08:17:00"),
		CloseHour: strPtr("18:21:00"),
	}
}

func at(t *testing.T, s string) domain.TimeOfDay {
	t.Helper()
	tod, err := domain.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return tod
}

var errStore = errors.New("connection reset by peer")

// --- Create ---

func TestPointsService_Create(t *testing.T) {
	repo := &mockPointRepo{}
	cache := newMemCache()
	cache.data[usecases.CacheKeyPoints] = []byte("stale")
	cache.data[usecases.CacheKeyPointsNear] = []byte("gen")
	pub := &recordingPublisher{}

	svc := usecases.NewPointsService(repo, cache, usecases.WithPublisher(pub))
	p := samplePoint("mock-mock-mock-mock")
	created, err := svc.Create(context.Background(), &p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID != "mock-mock-mock-mock" {
		t.Errorf("expected id mock-mock-mock-mock, got %s", created.ID)
	}
	if repo.commits != 1 {
		t.Errorf("expected 1 commit, got %d", repo.commits)
	}
	if cache.has(usecases.CacheKeyPoints) || cache.has(usecases.CacheKeyPointsNear) {
		t.Error("expected points and points_near to be invalidated")
	}
	if len(pub.events) != 1 || pub.events[0].Type != domain.PointCreated {
		t.Errorf("expected one created event, got %+v", pub.events)
	}
}

func TestPointsService_Create_AssignsID(t *testing.T) {
	svc := usecases.NewPointsService(&mockPointRepo{}, nil)
	p := samplePoint("")
	created, err := svc.Create(context.Background(), &p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created.ID) != 36 {
		t.Errorf("expected a UUID, got %q", created.ID)
	}
}

func TestPointsService_Create_StoreError(t *testing.T) {
	repo := &mockPointRepo{
		createFn: func(ctx context.Context, p *domain.Point) (*domain.Point, error) {
			return nil, errStore
		},
	}
	cache := newMemCache()
	cache.data[usecases.CacheKeyPoints] = []byte("cached")
	pub := &recordingPublisher{}

	svc := usecases.NewPointsService(repo, cache, usecases.WithPublisher(pub))
	p := samplePoint("id-1")
	_, err := svc.Create(context.Background(), &p)

	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !errors.Is(err, errStore) {
		t.Error("expected StorageError to unwrap to the store error")
	}
	if repo.rollbacks != 1 {
		t.Errorf("expected rollback, got %d", repo.rollbacks)
	}
	if !cache.has(usecases.CacheKeyPoints) {
		t.Error("cache must not be invalidated when the write fails")
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no events, got %d", len(pub.events))
	}
}

func TestPointsService_Create_CacheAndPublisherFailuresIgnored(t *testing.T) {
	cache := newMemCache()
	cache.failAll = true
	pub := &recordingPublisher{err: errors.New("nats: no responders")}

	svc := usecases.NewPointsService(&mockPointRepo{}, cache, usecases.WithPublisher(pub))
	p := samplePoint("id-1")
	if _, err := svc.Create(context.Background(), &p); err != nil {
		t.Fatalf("cache or publisher failure must not fail the write: %v", err)
	}
}

// --- List ---

func TestPointsService_List_MissThenHit(t *testing.T) {
	calls := 0
	repo := &mockPointRepo{
		listFn: func(ctx context.Context) ([]domain.Point, error) {
			calls++
			return []domain.Point{samplePoint("a"), samplePoint("b")}, nil
		},
	}
	cache := newMemCache()
	svc := usecases.NewPointsService(repo, cache, usecases.WithCacheTTL(5*time.Minute, time.Hour))

	for i := 0; i < 2; i++ {
		points, err := svc.List(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(points) != 2 {
			t.Fatalf("expected 2 points, got %d", len(points))
		}
	}
	if calls != 1 {
		t.Errorf("expected store to be read once, got %d", calls)
	}
	if cache.ttls[usecases.CacheKeyPoints] != 300 {
		t.Errorf("expected 300s TTL, got %d", cache.ttls[usecases.CacheKeyPoints])
	}
	if cache.ttls[usecases.CacheKeyPoints+":stale"] != 3600 {
		t.Errorf("expected 3600s stale TTL, got %d", cache.ttls[usecases.CacheKeyPoints+":stale"])
	}
}

func TestPointsService_List_EmptyCachedValueIsMiss(t *testing.T) {
	calls := 0
	repo := &mockPointRepo{
		listFn: func(ctx context.Context) ([]domain.Point, error) {
			calls++
			return nil, nil
		},
	}
	svc := usecases.NewPointsService(repo, newMemCache())
	for i := 0; i < 2; i++ {
		if _, err := svc.List(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("expected empty results to hit the store each time, got %d calls", calls)
	}
}

func TestPointsService_List_StoreErrorFallsBackToCache(t *testing.T) {
	healthy := true
	repo := &mockPointRepo{
		listFn: func(ctx context.Context) ([]domain.Point, error) {
			if !healthy {
				return nil, errStore
			}
			return []domain.Point{samplePoint("a"), samplePoint("b")}, nil
		},
	}
	cache := newMemCache()
	svc := usecases.NewPointsService(repo, cache)

	if _, err := svc.List(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A write evicts the fresh copy; the store then goes down.
	p := samplePoint("c")
	if _, err := svc.Create(context.Background(), &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	healthy = false

	points, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("expected 2 cached points, got %d", len(points))
	}
}

func TestPointsService_List_StoreErrorReturnsCachedEmptyList(t *testing.T) {
	repo := &mockPointRepo{
		listFn: func(ctx context.Context) ([]domain.Point, error) {
			return nil, errStore
		},
	}
	cache := newMemCache()
	cache.data[usecases.CacheKeyPoints] = []byte{0x90} // msgpack empty array

	svc := usecases.NewPointsService(repo, cache)
	points, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("expected empty list, got %d", len(points))
	}
}

func TestPointsService_List_StoreErrorNothingCached(t *testing.T) {
	repo := &mockPointRepo{
		listFn: func(ctx context.Context) ([]domain.Point, error) {
			return nil, errStore
		},
	}
	svc := usecases.NewPointsService(repo, newMemCache())
	_, err := svc.List(context.Background())
	if !domain.IsStorageError(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestPointsService_List_CacheDownReadsStore(t *testing.T) {
	repo := &mockPointRepo{
		listFn: func(ctx context.Context) ([]domain.Point, error) {
			return []domain.Point{samplePoint("a")}, nil
		},
	}
	cache := newMemCache()
	cache.failAll = true

	svc := usecases.NewPointsService(repo, cache)
	points, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 1 {
		t.Errorf("expected 1 point, got %d", len(points))
	}
}

func TestPointsService_ListAfterCreate_SeesNewPoint(t *testing.T) {
	var stored []domain.Point
	repo := &mockPointRepo{
		createFn: func(ctx context.Context, p *domain.Point) (*domain.Point, error) {
			stored = append(stored, *p)
			return p, nil
		},
		listFn: func(ctx context.Context) ([]domain.Point, error) {
			return append([]domain.Point(nil), stored...), nil
		},
	}
	svc := usecases.NewPointsService(repo, newMemCache())

	first := samplePoint("first")
	if _, err := svc.Create(context.Background(), &first); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.List(context.Background()); err != nil {
		t.Fatal(err)
	}

	second := samplePoint("second")
	if _, err := svc.Create(context.Background(), &second); err != nil {
		t.Fatal(err)
	}
	points, err := svc.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for _, p := range points {
		if p.ID == "second" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected created point exactly once, got %d (list %d)", count, len(points))
	}
}

// --- Update ---

func TestPointsService_Update(t *testing.T) {
	var gotID string
	repo := &mockPointRepo{
		updateFn: func(ctx context.Context, id string, p *domain.Point) (int64, error) {
			gotID = id
			return 1, nil
		},
	}
	cache := newMemCache()
	cache.data[usecases.CacheKeyPoints] = []byte("x")
	cache.data[usecases.CacheKeyPointsNear] = []byte("y")
	pub := &recordingPublisher{}

	svc := usecases.NewPointsService(repo, cache, usecases.WithPublisher(pub))
	p := samplePoint("mock-mock-mock-mock")
	updated, err := svc.Update(context.Background(), &p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ID != "mock-mock-mock-mock" || gotID != "mock-mock-mock-mock" {
		t.Errorf("unexpected ids: returned %s, store got %s", updated.ID, gotID)
	}
	if cache.has(usecases.CacheKeyPoints) || cache.has(usecases.CacheKeyPointsNear) {
		t.Error("expected cache invalidation")
	}
	if len(pub.events) != 1 || pub.events[0].Type != domain.PointUpdated {
		t.Errorf("expected one updated event, got %+v", pub.events)
	}
}

func TestPointsService_Update_NotFound(t *testing.T) {
	repo := &mockPointRepo{
		updateFn: func(ctx context.Context, id string, p *domain.Point) (int64, error) {
			return 0, nil
		},
	}
	cache := newMemCache()
	cache.data[usecases.CacheKeyPoints] = []byte("x")

	svc := usecases.NewPointsService(repo, cache)
	p := samplePoint("missing")
	_, err := svc.Update(context.Background(), &p)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if domain.IsStorageError(err) {
		t.Error("not-found must not be reported as a storage error")
	}
	if repo.rollbacks != 1 || repo.commits != 0 {
		t.Errorf("expected rollback only, got commits=%d rollbacks=%d", repo.commits, repo.rollbacks)
	}
	if !cache.has(usecases.CacheKeyPoints) {
		t.Error("cache must be untouched when nothing changed")
	}
}

func TestPointsService_Update_StoreError(t *testing.T) {
	repo := &mockPointRepo{
		updateFn: func(ctx context.Context, id string, p *domain.Point) (int64, error) {
			return 0, errStore
		},
	}
	svc := usecases.NewPointsService(repo, nil)
	p := samplePoint("id")
	_, err := svc.Update(context.Background(), &p)
	if !domain.IsStorageError(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

// --- Delete ---

func TestPointsService_Delete_InvalidatesBothKeys(t *testing.T) {
	cache := newMemCache()
	cache.data[usecases.CacheKeyPoints] = []byte("x")
	cache.data[usecases.CacheKeyPointsNear] = []byte("y")
	pub := &recordingPublisher{}

	svc := usecases.NewPointsService(&mockPointRepo{}, cache, usecases.WithPublisher(pub))
	ok, err := svc.Delete(context.Background(), "mock-mock-mock-mock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected true")
	}
	if cache.has(usecases.CacheKeyPoints) || cache.has(usecases.CacheKeyPointsNear) {
		t.Error("delete must invalidate points and points_near")
	}
	if len(pub.events) != 1 || pub.events[0].Type != domain.PointDeleted {
		t.Errorf("expected one deleted event, got %+v", pub.events)
	}
}

func TestPointsService_Delete_MissingIsIdempotent(t *testing.T) {
	repo := &mockPointRepo{
		deleteFn: func(ctx context.Context, id string) (int64, error) { return 0, nil },
	}
	pub := &recordingPublisher{}
	svc := usecases.NewPointsService(repo, nil, usecases.WithPublisher(pub))

	ok, err := svc.Delete(context.Background(), "nope")
	if err != nil || !ok {
		t.Fatalf("expected success, got %v, %v", ok, err)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no event for a no-op delete, got %d", len(pub.events))
	}
}

func TestPointsService_Delete_StoreError(t *testing.T) {
	repo := &mockPointRepo{
		deleteFn: func(ctx context.Context, id string) (int64, error) {
			return 0, errors.New("db: connection lost")
		},
	}
	svc := usecases.NewPointsService(repo, nil)
	ok, err := svc.Delete(context.Background(), "id")
	if ok || !domain.IsStorageError(err) {
		t.Fatalf("expected false and StorageError, got %v, %v", ok, err)
	}
	if repo.rollbacks != 1 {
		t.Errorf("expected rollback, got %d", repo.rollbacks)
	}
}

// --- Near ---

func nearRepo(calls *int) *mockPointRepo {
	return &mockPointRepo{
		findInBoxFn: func(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
			if calls != nil {
				*calls++
			}
			points := []domain.Point{
				samplePoint("with-hours"),
				{ID: "always-open", Name: "test", Latitude: 15, Longitude: 30},
			}
			var out []domain.Point
			for _, p := range points {
				if box.Contains(p.Latitude, p.Longitude) {
					out = append(out, p)
				}
			}
			return out, nil
		},
	}
}

func TestPointsService_Near_OpenInRange(t *testing.T) {
	svc := usecases.NewPointsService(nearRepo(nil), newMemCache())
	points, err := svc.Near(context.Background(), 15, 30, 2, at(t, "08:22"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	for _, p := range points {
		if p.IsClosed == nil || *p.IsClosed != 0 {
			t.Errorf("expected %s open at 08:22", p.ID)
		}
	}
}

func TestPointsService_Near_ClosedOutsideHours(t *testing.T) {
	svc := usecases.NewPointsService(nearRepo(nil), newMemCache())
	points, err := svc.Near(context.Background(), 15, 30, 2, at(t, "19:22"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := map[string]int{}
	for _, p := range points {
		flags[p.ID] = *p.IsClosed
	}
	if flags["with-hours"] != 1 {
		t.Errorf("expected with-hours closed at 19:22")
	}
	if flags["always-open"] != 0 {
		t.Errorf("expected always-open to stay open")
	}
}

func TestPointsService_Near_BoundingBox(t *testing.T) {
	var gotBox domain.Bounds
	repo := &mockPointRepo{
		findInBoxFn: func(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
			gotBox = box
			return nil, nil
		},
	}
	svc := usecases.NewPointsService(repo, nil)
	if _, err := svc.Near(context.Background(), 15, 30, 2, at(t, "10:00")); err != nil {
		t.Fatal(err)
	}
	want := domain.Bounds{MinLat: 13, MaxLat: 17, MinLon: 28, MaxLon: 32}
	if gotBox != want {
		t.Errorf("expected box %+v, got %+v", want, gotBox)
	}
	if !gotBox.Contains(15, 30) || gotBox.Contains(20, 30) {
		t.Error("expected (15,30) inside and (20,30) outside")
	}
}

func TestPointsService_Near_CachedFlagRecomputed(t *testing.T) {
	calls := 0
	cache := newMemCache()
	svc := usecases.NewPointsService(nearRepo(&calls), cache)

	morning, err := svc.Near(context.Background(), 15, 30, 2, at(t, "08:22"))
	if err != nil {
		t.Fatal(err)
	}
	evening, err := svc.Near(context.Background(), 15, 30, 2, at(t, "19:22"))
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected second call served from cache, store hit %d times", calls)
	}
	if *morning[0].IsClosed != 0 || *evening[0].IsClosed != 1 {
		t.Errorf("expected flag recomputed per call, got morning=%d evening=%d",
			*morning[0].IsClosed, *evening[0].IsClosed)
	}
}

func TestPointsService_Near_CachesRawPoints(t *testing.T) {
	cache := newMemCache()
	var raw []domain.Point
	repo := &mockPointRepo{
		findInBoxFn: func(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
			raw = []domain.Point{samplePoint("a")}
			return raw, nil
		},
	}
	svc := usecases.NewPointsService(repo, cache)
	if _, err := svc.Near(context.Background(), 15, 30, 2, at(t, "08:22")); err != nil {
		t.Fatal(err)
	}
	if raw[0].IsClosed != nil {
		t.Error("store result must not be mutated")
	}

	// A fresh service reading the same cache sees only raw points.
	reader := usecases.NewPointsService(&mockPointRepo{
		findInBoxFn: func(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
			t.Fatal("expected cache hit")
			return nil, nil
		},
	}, cache)
	points, err := reader.Near(context.Background(), 15, 30, 2, at(t, "19:22"))
	if err != nil {
		t.Fatal(err)
	}
	if *points[0].IsClosed != 1 {
		t.Error("expected flag derived from the query time, not the cached value")
	}
}

func TestPointsService_Near_KeyedByLocation(t *testing.T) {
	calls := 0
	cache := newMemCache()
	svc := usecases.NewPointsService(nearRepo(&calls), cache)

	if _, err := svc.Near(context.Background(), 15, 30, 2, at(t, "10:00")); err != nil {
		t.Fatal(err)
	}
	far, err := svc.Near(context.Background(), 60, 60, 2, at(t, "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected a separate cache slot per location, store hit %d times", calls)
	}
	if len(far) != 0 {
		t.Errorf("expected no points near (60,60), got %d", len(far))
	}
}

func TestPointsService_Near_InvalidatedByWrites(t *testing.T) {
	writes := []struct {
		name string
		fn   func(svc *usecases.PointsService) error
	}{
		{"create", func(svc *usecases.PointsService) error {
			p := samplePoint("new")
			_, err := svc.Create(context.Background(), &p)
			return err
		}},
		{"update", func(svc *usecases.PointsService) error {
			p := samplePoint("with-hours")
			_, err := svc.Update(context.Background(), &p)
			return err
		}},
		{"delete", func(svc *usecases.PointsService) error {
			_, err := svc.Delete(context.Background(), "with-hours")
			return err
		}},
	}

	for _, w := range writes {
		t.Run(w.name, func(t *testing.T) {
			calls := 0
			// A frozen clock must not let a new near generation collide with the old one.
			frozen := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)
			svc := usecases.NewPointsService(nearRepo(&calls), newMemCache(),
				usecases.WithClock(func() time.Time { return frozen }))

			if _, err := svc.Near(context.Background(), 15, 30, 2, at(t, "10:00")); err != nil {
				t.Fatal(err)
			}
			if err := w.fn(svc); err != nil {
				t.Fatal(err)
			}
			if _, err := svc.Near(context.Background(), 15, 30, 2, at(t, "10:00")); err != nil {
				t.Fatal(err)
			}
			if calls != 2 {
				t.Errorf("expected near cache to be invalidated by %s, store hit %d times", w.name, calls)
			}
		})
	}
}

func TestPointsService_Near_StoreErrorFallsBackToStale(t *testing.T) {
	healthy := true
	cache := newMemCache()
	repo := &mockPointRepo{
		findInBoxFn: func(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
			if !healthy {
				return nil, errStore
			}
			return []domain.Point{samplePoint("a")}, nil
		},
	}
	svc := usecases.NewPointsService(repo, cache)

	if _, err := svc.Near(context.Background(), 15, 30, 2, at(t, "08:22")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Delete(context.Background(), "other"); err != nil {
		t.Fatal(err)
	}
	healthy = false

	points, err := svc.Near(context.Background(), 15, 30, 2, at(t, "19:22"))
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if len(points) != 1 || *points[0].IsClosed != 1 {
		t.Errorf("expected one stale point flagged closed, got %+v", points)
	}
	if len(cache.keysWithPrefix(usecases.CacheKeyPointsNear+":stale:")) != 1 {
		t.Error("expected one stale near entry")
	}
}

func TestPointsService_StoreErrorServesSnapshotFromBeforeWrite(t *testing.T) {
	healthy := true
	stored := samplePoint("a")
	stored.Name = "before"
	repo := &mockPointRepo{
		listFn: func(ctx context.Context) ([]domain.Point, error) {
			if !healthy {
				return nil, errStore
			}
			return []domain.Point{stored}, nil
		},
		findInBoxFn: func(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
			if !healthy {
				return nil, errStore
			}
			return []domain.Point{stored}, nil
		},
		updateFn: func(ctx context.Context, id string, p *domain.Point) (int64, error) {
			stored = *p
			return 1, nil
		},
	}
	svc := usecases.NewPointsService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.List(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Near(ctx, 15, 30, 2, at(t, "10:00")); err != nil {
		t.Fatal(err)
	}

	renamed := samplePoint("a")
	renamed.Name = "after"
	if _, err := svc.Update(ctx, &renamed); err != nil {
		t.Fatal(err)
	}
	healthy = false

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if len(list) != 1 || list[0].Name != "before" {
		t.Errorf("expected list snapshot from before the update, got %+v", list)
	}

	near, err := svc.Near(ctx, 15, 30, 2, at(t, "10:00"))
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if len(near) != 1 || near[0].Name != "before" {
		t.Errorf("expected near snapshot from before the update, got %+v", near)
	}
}

func TestPointsService_Near_StoreErrorNothingCached(t *testing.T) {
	repo := &mockPointRepo{
		findInBoxFn: func(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
			return nil, errStore
		},
	}
	svc := usecases.NewPointsService(repo, newMemCache())
	_, err := svc.Near(context.Background(), 15, 30, 2, at(t, "10:00"))
	if !domain.IsStorageError(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestPointsService_Near_BadStoredHoursTreatedOpen(t *testing.T) {
	repo := &mockPointRepo{
		findInBoxFn: func(ctx context.Context, box domain.Bounds) ([]domain.Point, error) {
			return []domain.Point{{ID: "bad", OpenHour: strPtr("late"), CloseHour: strPtr("early")}}, nil
		},
	}
	svc := usecases.NewPointsService(repo, nil)
	points, err := svc.Near(context.Background(), 0, 0, 1, at(t, "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if *points[0].IsClosed != 0 {
		t.Error("expected unreadable hours to be treated as open")
	}
}

// --- Import ---

func TestPointsService_Import(t *testing.T) {
	repo := &mockPointRepo{}
	cache := newMemCache()
	cache.data[usecases.CacheKeyPoints] = []byte("x")
	pub := &recordingPublisher{}

	svc := usecases.NewPointsService(repo, cache, usecases.WithPublisher(pub))
	n, err := svc.Import(context.Background(), []domain.Point{samplePoint(""), samplePoint("")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 imported, got %d", n)
	}
	if repo.commits != 1 {
		t.Errorf("expected a single transaction, got %d commits", repo.commits)
	}
	if cache.has(usecases.CacheKeyPoints) {
		t.Error("expected invalidation after import")
	}
	if len(pub.events) != 2 {
		t.Errorf("expected 2 events, got %d", len(pub.events))
	}
}

func TestPointsService_Import_RollsBackOnError(t *testing.T) {
	created := 0
	repo := &mockPointRepo{
		createFn: func(ctx context.Context, p *domain.Point) (*domain.Point, error) {
			created++
			if created == 2 {
				return nil, errStore
			}
			return p, nil
		},
	}
	svc := usecases.NewPointsService(repo, nil)
	n, err := svc.Import(context.Background(), []domain.Point{samplePoint("a"), samplePoint("b"), samplePoint("c")})
	if !domain.IsStorageError(err) || n != 0 {
		t.Fatalf("expected StorageError and 0, got %d, %v", n, err)
	}
	if repo.rollbacks != 1 {
		t.Errorf("expected rollback, got %d", repo.rollbacks)
	}
}
