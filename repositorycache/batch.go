package repositorycache

import (
	"context"
	"sync"

	"github.com/goliatone/go-crm-batch/cache"
)

type invalidationBatchKey struct{}

// invalidationBatch collects tags from writes made under one context until
// its flush runs.
type invalidationBatch struct {
	mu    sync.Mutex
	coord *cache.Coordinator
	tags  map[string]struct{}
}

func (b *invalidationBatch) add(coord *cache.Coordinator, tags []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.coord = coord
	for _, tag := range tags {
		b.tags[tag] = struct{}{}
	}
}

func (b *invalidationBatch) take() (*cache.Coordinator, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.tags) == 0 {
		return b.coord, nil
	}
	tags := make([]string, 0, len(b.tags))
	for tag := range b.tags {
		tags = append(tags, tag)
	}
	b.tags = make(map[string]struct{})
	return b.coord, tags
}

// DeferInvalidation returns a context under which cached writes record
// their tags instead of invalidating right away, and a flush that drops
// everything recorded so far. Reads under the context may see entries
// that a pending write made stale until the next flush. Bulk writers use
// it to invalidate once per batch instead of once per row.
func DeferInvalidation(ctx context.Context) (context.Context, func(context.Context) error) {
	b := &invalidationBatch{tags: make(map[string]struct{})}
	flush := func(ctx context.Context) error {
		coord, tags := b.take()
		if coord == nil || len(tags) == 0 {
			return nil
		}
		return coord.InvalidateByTags(ctx, cache.MergeTags(tags)...)
	}
	return context.WithValue(ctx, invalidationBatchKey{}, b), flush
}

func batchFromContext(ctx context.Context) *invalidationBatch {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(invalidationBatchKey{}).(*invalidationBatch)
	return b
}
