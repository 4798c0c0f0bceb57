package cache

import (
	"context"
	"time"
)

// KeySerializer builds a cache key from a method name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn is the function signature the coordinator calls on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Store is the backend contract behind the Coordinator. Entries are opaque
// bytes tagged with labels so a whole group can be dropped at once.
type Store interface {
	// Get returns the value under key. A missing or expired entry is
	// reported with ok == false and a nil error.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key for ttl and registers key under every tag.
	Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByTags removes every entry carrying any of tags and returns the
	// number of entries removed.
	DeleteByTags(ctx context.Context, tags ...string) (int, error)
}

// Codec turns cached values into bytes and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
