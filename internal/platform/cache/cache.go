// Package cache provides the byte caches behind search result caching.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store is a TTL key/value cache. A miss is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Cache kinds accepted by New.
const (
	KindMemory = "memory"
	KindRedis  = "redis"
	KindNone   = "none"
)

// New builds the cache named by kind. KindNone returns a nil Store.
func New(ctx context.Context, kind, redisURL string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMemory:
		return NewMemory(), nil
	case KindRedis:
		if redisURL == "" {
			return nil, fmt.Errorf("cache: redis requires REDIS_URL")
		}
		return NewRedis(ctx, redisURL, DefaultKeyPrefix)
	case KindNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("cache: unknown type %q", kind)
	}
}
