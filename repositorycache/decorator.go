package repositorycache

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/cache"
)

// TTLTable maps an operation name (e.g. "FindByID") to its entry lifetime.
type TTLTable map[string]time.Duration

// For returns the lifetime configured for op, or zero.
func (t TTLTable) For(op string) time.Duration {
	return t[op]
}

// Validate rejects any lifetime outside (0, cache.MaxTTL].
func (t TTLTable) Validate() error {
	for op, ttl := range t {
		if err := cache.ValidateTTL(ttl); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, fmt.Sprintf("ttl for %s", op))
		}
	}
	return nil
}

// Merge returns a copy of t with overrides applied. Override names match
// case-insensitively since config keys arrive lowercased.
func (t TTLTable) Merge(overrides TTLTable) TTLTable {
	out := make(TTLTable, len(t)+len(overrides))
	for op, ttl := range t {
		out[op] = ttl
	}
	for op, ttl := range overrides {
		name := op
		for known := range t {
			if strings.EqualFold(known, op) {
				name = known
				break
			}
		}
		out[name] = ttl
	}
	return out
}

// Option configures a wrapper.
type Option func(*options)

type options struct {
	logger *zap.SugaredLogger
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Decorator holds the caching behavior shared by every entity wrapper.
type Decorator[T any] struct {
	entity string
	coord  *cache.Coordinator
	ttls   TTLTable
	idOf   func(T) int64
	logger *zap.SugaredLogger
}

// NewDecorator validates ttls and returns a decorator for entity.
func NewDecorator[T any](entity string, coord *cache.Coordinator, ttls TTLTable, idOf func(T) int64, opts ...Option) (*Decorator[T], error) {
	if coord == nil {
		return nil, goerrors.New("cache coordinator is required", goerrors.CategoryValidation)
	}
	if err := ttls.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Decorator[T]{
		entity: entity,
		coord:  coord,
		ttls:   ttls,
		idOf:   idOf,
		logger: o.logger.With("entity", entity),
	}, nil
}

// Tag is the entity tag for id, e.g. customer:42.
func (d *Decorator[T]) Tag(id int64) string {
	return cache.EntityTag(d.entity, id)
}

// ReadSpec describes one cached read.
type ReadSpec[R any] struct {
	// Op names the operation and selects its TTL.
	Op string
	// Args are hashed into the key.
	Args []any
	// Tags are added to the user tag.
	Tags []string
	// CacheIf, when set, decides whether a fetched value may be stored.
	CacheIf func(R) bool
}

// Read serves spec for userID through the cache, calling fetch on a miss.
func Read[T, R any](ctx context.Context, d *Decorator[T], userID int64, spec ReadSpec[R], fetch cache.FetchFn[R]) (R, error) {
	key, tags := d.coord.CacheInfoFor(userID, operationName(d.entity, spec.Op), spec.Args...)
	tags = cache.MergeTags(tags, spec.Tags, cacheTagsFromContext(ctx))
	return cache.ReadThroughIf(ctx, d.coord, key, tags, d.ttls.For(spec.Op), fetch, spec.CacheIf)
}

// Invalidate drops the user's entries and those of each record.
func (d *Decorator[T]) Invalidate(ctx context.Context, userID int64, records ...T) {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, d.idOf(r))
	}
	d.InvalidateIDs(ctx, userID, ids...)
}

// InvalidateIDs drops the user's entries and those tagged with any id.
func (d *Decorator[T]) InvalidateIDs(ctx context.Context, userID int64, ids ...int64) {
	tags := []string{cache.UserTag(userID)}
	for _, id := range ids {
		if id > 0 {
			tags = append(tags, d.Tag(id))
		}
	}
	d.InvalidateTags(ctx, tags...)
}

// InvalidateTags drops entries for raw tags. Failures are logged, the
// write that triggered them has already been committed.
func (d *Decorator[T]) InvalidateTags(ctx context.Context, tags ...string) {
	if b := batchFromContext(ctx); b != nil {
		b.add(d.coord, tags)
		return
	}
	if err := d.coord.InvalidateByTags(ctx, tags...); err != nil {
		d.logger.Errorw("invalidation after write failed", "tags", tags, "err", err)
	}
}
