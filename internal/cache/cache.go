// Package cache provides a read-through cache facade over a networked
// key-value store. Store failures are never surfaced to callers: an
// unreachable or corrupted cache degrades to fetching from the source of
// truth directly.
package cache

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tlong-ds/thelearninghouse/internal/domain/repository"
)

// Stored values above this size are compressed when the caller opts in.
const CompressionThreshold = 10 * 1024

// Reserved marker prefixing compressed entries in the store.
const compressedPrefix = "COMPRESSED:"

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

type Cache struct {
	store   repository.Store
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *Metrics
}

// New creates a cache facade backed by the given store. A nil store disables
// caching entirely; every lookup falls through to the fetch function.
func New(store repository.Store, logger *zap.Logger) *Cache {
	c := &Cache{
		store:   store,
		logger:  logger,
		metrics: newMetrics(time.Now()),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cache-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// GetOrCompute returns the cached value for key, or computes it with fetch on
// a miss and stores the result with the given TTL. When compress is set,
// serialized values above CompressionThreshold are deflated before storing.
//
// Concurrent misses for the same key may each run fetch and redundantly
// overwrite the entry; no single-flight guarantee is made.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compress bool, fetch FetchFunc[T]) (T, error) {
	var zero T
	if key == "" {
		return zero, errors.New("cache: key must not be empty")
	}

	raw, ok, available := c.lookup(ctx, key)
	if !available {
		c.metrics.miss()
		return fetch(ctx)
	}
	if ok {
		var v T
		err := decodeEntry(raw, &v)
		if err == nil {
			c.metrics.hit()
			return v, nil
		}
		// Corrupted entry: drop it and refetch below.
		c.logger.Warn("deleting corrupted cache entry", zap.String("key", key), zap.Error(err))
		c.del(ctx, key)
	}

	c.metrics.miss()
	v, err := fetch(ctx)
	if err != nil {
		return zero, err
	}
	c.put(ctx, key, v, ttl, compress)
	return v, nil
}

// Invalidate deletes the given keys. A no-op when the store is unreachable.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.del(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidation skipped", zap.Strings("keys", keys), zap.Error(err))
	}
}

// InvalidatePattern deletes every key matching the glob pattern using
// incremental cursor scans, deleting matches in batches. A no-op when the
// store is unreachable.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) {
	if c.store == nil {
		return
	}
	var cursor uint64
	for {
		next, keys, err := c.scan(ctx, cursor, pattern, 100)
		if err != nil {
			c.logger.Warn("cache pattern invalidation skipped", zap.String("pattern", pattern), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := c.del(ctx, keys...); err != nil {
				c.logger.Warn("cache pattern invalidation skipped", zap.String("pattern", pattern), zap.Error(err))
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// Metrics returns a consistent snapshot of the hit/miss and size counters.
func (c *Cache) Metrics() Snapshot { return c.metrics.snapshot(time.Now()) }

// ResetMetrics zeroes every counter together.
func (c *Cache) ResetMetrics() { c.metrics.reset(time.Now()) }

// lookup reads the raw entry for key. available is false when the store is
// absent, tripped, or erroring, in which case the caller must fetch directly.
func (c *Cache) lookup(ctx context.Context, key string) (raw []byte, ok, available bool) {
	if c.store == nil {
		return nil, false, false
	}
	type result struct {
		value []byte
		ok    bool
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		value, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return result{value, ok}, nil
	})
	if err != nil {
		c.logger.Warn("cache store unavailable, fetching directly", zap.String("key", key), zap.Error(err))
		return nil, false, false
	}
	res := out.(result)
	return res.value, res.ok, true
}

// put serializes and stores the value. Failures are logged, never returned.
func (c *Cache) put(ctx context.Context, key string, v any, ttl time.Duration, compress bool) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cannot serialize value for cache", zap.String("key", key), zap.Error(err))
		return
	}

	value := data
	compressed := false
	if compress && len(data) > CompressionThreshold {
		value = encodeCompressed(data)
		compressed = true
		c.logger.Debug("compressed cache entry",
			zap.String("key", key),
			zap.Int("original", len(data)),
			zap.Int("stored", len(value)))
	}
	c.metrics.observeStored(len(data), len(value), compressed)

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.store.SetEx(ctx, key, value, ttl)
	})
	if err != nil {
		c.logger.Warn("cannot store cache entry", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return nil
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.store.Del(ctx, keys...)
	})
	return err
}

func (c *Cache) scan(ctx context.Context, cursor uint64, match string, count int64) (uint64, []string, error) {
	type result struct {
		cursor uint64
		keys   []string
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		next, keys, err := c.store.Scan(ctx, cursor, match, count)
		if err != nil {
			return nil, err
		}
		return result{next, keys}, nil
	})
	if err != nil {
		return 0, nil, err
	}
	res := out.(result)
	return res.cursor, res.keys, nil
}

// decodeEntry deserializes a stored entry, inflating it first when it carries
// the reserved compression marker.
func decodeEntry(raw []byte, out any) error {
	if !bytes.HasPrefix(raw, []byte(compressedPrefix)) {
		return json.Unmarshal(raw, out)
	}
	encoded := raw[len(compressedPrefix):]
	compressed := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(compressed, encoded)
	if err != nil {
		return err
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed[:n]))
	if err != nil {
		return err
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func encodeCompressed(data []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(data)
	zw.Close()

	value := make([]byte, len(compressedPrefix)+base64.StdEncoding.EncodedLen(buf.Len()))
	copy(value, compressedPrefix)
	base64.StdEncoding.Encode(value[len(compressedPrefix):], buf.Bytes())
	return value
}
