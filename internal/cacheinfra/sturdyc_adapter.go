package cacheinfra

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc backed store.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is the longest time sturdyc keeps an entry. Per entry lifetimes
	// are enforced on read and should not exceed it.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                24 * time.Hour,
		EvictionPercentage: 10,
		EvictionInterval:   0, // Use default
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// entry is what sturdyc holds for every key.
type entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// SturdycStore is an in-process cache.Store. sturdyc holds the values and
// an xsync map indexes keys by tag.
type SturdycStore struct {
	client *sturdyc.Client[entry]
	tags   *xsync.MapOf[string, map[string]struct{}]
	clock  clock.Clock
}

// StoreOption configures a SturdycStore.
type StoreOption func(*SturdycStore)

// WithClock overrides the clock used for per entry expiry.
func WithClock(c clock.Clock) StoreOption {
	return func(s *SturdycStore) { s.clock = c }
}

// NewSturdycStore validates cfg and builds the store.
func NewSturdycStore(cfg Config, opts ...StoreOption) (*SturdycStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	s := &SturdycStore{
		client: client,
		tags:   xsync.NewMapOf[string, map[string]struct{}](),
		clock:  clock.WallClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the live value under key.
func (s *SturdycStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.clock.Now().Before(e.ExpiresAt) {
		s.client.Delete(key)
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Set stores the value first and indexes it afterwards, so an invalidation
// racing with Set can at worst leave a dangling index entry.
func (s *SturdycStore) Set(_ context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	s.client.Set(key, entry{Value: value, ExpiresAt: s.clock.Now().Add(ttl)})
	for _, tag := range tags {
		s.tags.Compute(tag, func(old map[string]struct{}, _ bool) (map[string]struct{}, bool) {
			next := make(map[string]struct{}, len(old)+1)
			for k := range old {
				next[k] = struct{}{}
			}
			next[key] = struct{}{}
			return next, false
		})
	}
	return nil
}

// Delete removes keys. Tag index entries are dropped lazily.
func (s *SturdycStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// DeleteByTags removes every entry indexed under any of tags.
func (s *SturdycStore) DeleteByTags(_ context.Context, tags ...string) (int, error) {
	removed := make(map[string]struct{})
	for _, tag := range tags {
		keys, ok := s.tags.LoadAndDelete(tag)
		if !ok {
			continue
		}
		for key := range keys {
			if _, done := removed[key]; done {
				continue
			}
			if _, present := s.client.Get(key); present {
				removed[key] = struct{}{}
			}
			s.client.Delete(key)
		}
	}
	return len(removed), nil
}

// Size returns the number of entries held by sturdyc.
func (s *SturdycStore) Size() int {
	return s.client.Size()
}

// TagCount returns the number of indexed tags.
func (s *SturdycStore) TagCount() int {
	return s.tags.Size()
}
