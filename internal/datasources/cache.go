package datasources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Cache results reported to the Recorder.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultStale = "stale"
	ResultError = "error"
)

// Entry is a cached payload. Data holds the JSON encoding of the value.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store persists entries. Stores keep entries past their TTL so stale values
// can be served when a refresh fails.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
}

// Freshness describes how a value returned by GetOrFetch was obtained.
type Freshness struct {
	Stale    bool      `json:"stale"`
	CachedAt time.Time `json:"cached_at"`
	// Err is the refresh failure when Stale is set.
	Err error `json:"-"`
}

// Cache is a keyed TTL cache over a Store, safe for concurrent use.
// Concurrent misses for the same key share one upstream fetch.
type Cache struct {
	store    Store
	now      func() time.Time
	group    singleflight.Group
	recorder Recorder
	logger   zerolog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithRecorder reports hit/miss/stale results.
func WithRecorder(r Recorder) CacheOption {
	return func(c *Cache) { c.recorder = r }
}

// NewCache creates a cache over store.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:    store,
		now:      time.Now,
		recorder: NopRecorder{},
		logger:   log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the cached value for key while it is younger than ttl.
// Otherwise it calls fetch and stores the result. When fetch fails and any
// previous entry exists, that entry is returned with Freshness.Stale set and
// a nil error; with no entry the fetch error is returned. A caller whose ctx
// ends while waiting gets ctx.Err(); the shared fetch keeps running for the
// other waiters.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, Freshness, error) {
	var zero T
	source := sourceOf(key)

	entry, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		found = false
	}

	if found && c.now().Sub(entry.Timestamp) < ttl {
		var v T
		if err := json.Unmarshal(entry.Data, &v); err == nil {
			c.recorder.CacheResult(source, ResultHit)
			return v, Freshness{CachedAt: entry.Timestamp}, nil
		}
		c.logger.Warn().Str("key", key).Msg("undecodable cache entry, refetching")
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The fetch is shared by every waiter on key, so it must not end
		// when the caller that started it goes away.
		fetchCtx := context.WithoutCancel(ctx)
		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode cache entry %s: %w", key, err)
		}
		fresh := Entry{Data: data, Timestamp: c.now()}
		if err := c.store.Set(fetchCtx, key, fresh); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
		return fresh, nil
	})

	var shared interface{}
	select {
	case res := <-ch:
		shared, err = res.Val, res.Err
	case <-ctx.Done():
		c.recorder.CacheResult(source, ResultError)
		return zero, Freshness{}, ctx.Err()
	}
	if err == nil {
		fresh := shared.(Entry)
		var v T
		if err := json.Unmarshal(fresh.Data, &v); err != nil {
			return zero, Freshness{}, fmt.Errorf("decode cache entry %s: %w", key, err)
		}
		c.recorder.CacheResult(source, ResultMiss)
		return v, Freshness{CachedAt: fresh.Timestamp}, nil
	}

	if found {
		var v T
		if decodeErr := json.Unmarshal(entry.Data, &v); decodeErr == nil {
			c.recorder.CacheResult(source, ResultStale)
			c.logger.Warn().
				Err(err).
				Str("key", key).
				Dur("age", c.now().Sub(entry.Timestamp)).
				Msg("serving stale cache entry")
			return v, Freshness{Stale: true, CachedAt: entry.Timestamp, Err: err}, nil
		}
	}

	c.recorder.CacheResult(source, ResultError)
	return zero, Freshness{}, err
}

// BuildKey creates a cache key from source, endpoint, and parameters.
func BuildKey(source, endpoint string, params map[string]string) string {
	key := fmt.Sprintf("%s:%s", source, endpoint)

	if len(params) > 0 {
		// encoding/json sorts map keys
		paramBytes, _ := json.Marshal(params)
		key += ":" + string(paramBytes)
	}

	return key
}

func sourceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
