package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Cache is a minimal interface over the operations CachedDirectory needs
// from a Redis client, narrowed the same way
// internal/fabric/redis_event_bus.go narrows RedisPubSubClient — callers
// pass a *redis.Client, tests pass a fake.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = cacheMissError{}

type cacheMissError struct{}

func (cacheMissError) Error() string { return "directory: cache miss" }

// CachedDirectory fronts a source Directory with a read-through cache:
// Lookup checks the cache first, falls through to the source on a miss,
// and populates the cache before returning.
type CachedDirectory struct {
	source Directory
	cache  Cache
	ttl    time.Duration
}

// NewCachedDirectory wraps source with cache, using ttl as the cache entry
// lifetime. A zero ttl defaults to 5 minutes.
func NewCachedDirectory(source Directory, cache Cache, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{source: source, cache: cache, ttl: ttl}
}

func cacheKey(subjectID string) string {
	return "kiosk:subject:" + subjectID
}

// Lookup returns the cached subject if present, otherwise falls through to
// the source directory and populates the cache for next time.
func (c *CachedDirectory) Lookup(ctx context.Context, subjectID string) (*Subject, error) {
	if raw, err := c.cache.Get(ctx, cacheKey(subjectID)); err == nil {
		var s Subject
		if jsonErr := json.Unmarshal([]byte(raw), &s); jsonErr == nil {
			return &s, nil
		}
		slog.Warn("directory: discarding corrupt cache entry", "subject_id", subjectID)
	}

	s, err := c.source.Lookup(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(s); err == nil {
		if err := c.cache.Set(ctx, cacheKey(subjectID), string(data), c.ttl); err != nil {
			slog.Warn("directory: cache populate failed", "subject_id", subjectID, "error", err)
		}
	}
	return s, nil
}

// AllWithEmbeddings always goes to the source: bulk enumeration is rare
// (engine warm-start, recognizer calibration) and not worth cache staleness.
func (c *CachedDirectory) AllWithEmbeddings(ctx context.Context) ([]*Subject, error) {
	all, err := c.source.AllWithEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory: cached all-with-embeddings: %w", err)
	}
	return all, nil
}
