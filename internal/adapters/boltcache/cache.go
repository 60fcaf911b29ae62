// Package boltcache is a ports.CacheService backed by a local bbolt file.
// It stands in for Valkey on single-node deployments.
package boltcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/samirrijal/digitalmaps/internal/core/ports"
)

var bucket = []byte("cache")

// Each value is an 8-byte big-endian unix-nano expiry followed by the payload.
const headerLen = 8

// Cache implements ports.CacheService on bbolt.
type Cache struct {
	db  *bolt.DB
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Open opens or creates the cache file at path.
func Open(path string, opts ...Option) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt bucket: %w", err)
	}

	c := &Cache{db: db, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Get returns the value for key, or ports.ErrCacheMiss if absent or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out     []byte
		expired bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if len(v) < headerLen {
			return ports.ErrCacheMiss
		}
		if c.now().UnixNano() >= int64(binary.BigEndian.Uint64(v[:headerLen])) {
			expired = true
			return ports.ErrCacheMiss
		}
		// v is only valid inside the transaction.
		out = append([]byte(nil), v[headerLen:]...)
		return nil
	})
	if expired {
		_ = c.Delete(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores value under key for ttlSeconds. A non-positive TTL is a no-op.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttlSeconds <= 0 {
		return nil
	}

	buf := make([]byte, headerLen+len(value))
	expiry := c.now().Add(time.Duration(ttlSeconds) * time.Second).UnixNano()
	binary.BigEndian.PutUint64(buf[:headerLen], uint64(expiry))
	copy(buf[headerLen:], value)

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), buf)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := c.now().UnixNano()
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if len(v) < headerLen || now >= int64(binary.BigEndian.Uint64(v[:headerLen])) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Close closes the underlying file.
func (c *Cache) Close() error {
	return c.db.Close()
}
