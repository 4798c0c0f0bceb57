package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/internal/metrics"
)

// MaxTTL bounds every entry lifetime. TTLs must be strictly positive and
// not above this value.
const MaxTTL = 7 * 24 * time.Hour

// DefaultNamespace prefixes every key built by a Coordinator.
const DefaultNamespace = "crm"

// Coordinator derives per-user cache keys and tag sets and implements
// read-through population and tag invalidation on top of a Store.
//
// Concurrent fills of the same key are not de-duplicated: the last writer
// wins and staleness is bounded by the entry TTL.
type Coordinator struct {
	store      Store
	serializer KeySerializer
	codec      Codec
	namespace  string
	logger     *zap.SugaredLogger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithKeySerializer(s KeySerializer) Option {
	return func(c *Coordinator) { c.serializer = s }
}

func WithCodec(codec Codec) Option {
	return func(c *Coordinator) { c.codec = codec }
}

func WithNamespace(ns string) Option {
	return func(c *Coordinator) { c.namespace = ns }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator wires a Coordinator over store.
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		serializer: NewDefaultKeySerializer(),
		codec:      NewMsgpackCodec(),
		namespace:  DefaultNamespace,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CacheInfoFor returns the key and base tag set for one user scoped
// operation. Arguments are serialized deterministically; id slices hash
// the same regardless of order.
func (c *Coordinator) CacheInfoFor(userID int64, operation string, args ...any) (string, []string) {
	parts := []string{c.namespace, "u" + strconv.FormatInt(userID, 10), operation}
	if len(args) > 0 {
		raw := c.serializer.SerializeKey(operation, args...)
		parts = append(parts, strconv.FormatUint(xxhash.Sum64String(raw), 16))
	}
	return strings.Join(parts, KeySeparator), []string{UserTag(userID)}
}

// InvalidateByTags drops every entry carrying any of tags.
func (c *Coordinator) InvalidateByTags(ctx context.Context, tags ...string) error {
	tags = MergeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	n, err := c.store.DeleteByTags(ctx, tags...)
	if err != nil {
		c.logger.Errorw("cache invalidation failed", "tags", tags, "err", err)
		return goerrors.Wrap(err, goerrors.CategoryExternal, "cache invalidation failed")
	}
	metrics.CacheInvalidations.Add(float64(n))
	c.logger.Debugw("cache invalidated", "tags", tags, "entries", n)
	return nil
}

// Delete removes individual keys.
func (c *Coordinator) Delete(ctx context.Context, keys ...string) error {
	return c.store.Delete(ctx, keys...)
}

// ValidateTTL rejects lifetimes that are not strictly positive and finite.
func ValidateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return goerrors.New(fmt.Sprintf("cache ttl must be positive, got %s", ttl), goerrors.CategoryValidation).
			WithTextCode("INVALID_TTL")
	}
	if ttl > MaxTTL {
		return goerrors.New(fmt.Sprintf("cache ttl %s exceeds max %s", ttl, MaxTTL), goerrors.CategoryValidation).
			WithTextCode("INVALID_TTL")
	}
	return nil
}

// ReadThrough returns the cached value under key or calls fetch, stores the
// result with tags for ttl, and returns it. Store failures never reach the
// caller: read errors fall through to fetch and write errors are logged.
func ReadThrough[T any](ctx context.Context, c *Coordinator, key string, tags []string, ttl time.Duration, fetch FetchFn[T]) (T, error) {
	return ReadThroughIf(ctx, c, key, tags, ttl, fetch, nil)
}

// ReadThroughIf behaves like ReadThrough but only stores results accepted
// by cacheable. A nil predicate caches every successful result.
func ReadThroughIf[T any](ctx context.Context, c *Coordinator, key string, tags []string, ttl time.Duration, fetch FetchFn[T], cacheable func(T) bool) (T, error) {
	if err := ValidateTTL(ttl); err != nil {
		c.logger.Warnw("cache bypassed", "key", key, "err", err)
		metrics.CacheLookups.WithLabelValues("bypass").Inc()
		return fetch(ctx)
	}

	raw, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		c.logger.Warnw("cache read failed, falling through", "key", key, "err", err)
		metrics.CacheLookups.WithLabelValues("error").Inc()
	case ok:
		var cached T
		decodeErr := c.codec.Unmarshal(raw, &cached)
		if decodeErr == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		}
		c.logger.Warnw("cache entry undecodable, refetching", "key", key, "err", decodeErr)
		_ = c.store.Delete(ctx, key)
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if cacheable != nil && !cacheable(value) {
		return value, nil
	}

	c.populate(ctx, key, tags, ttl, value)
	return value, nil
}

func (c *Coordinator) populate(ctx context.Context, key string, tags []string, ttl time.Duration, value any) {
	raw, err := c.codec.Marshal(value)
	if err != nil {
		metrics.CacheFillErrors.Inc()
		c.logger.Warnw("cache encode failed", "key", key, "err", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, MergeTags(tags), ttl); err != nil {
		metrics.CacheFillErrors.Inc()
		c.logger.Warnw("cache write failed", "key", key, "err", err)
	}
}
