package repositorycache

import (
	"context"

	"github.com/goliatone/go-crm-batch/cache"
)

type readScopeKey struct{}

// readScope carries tags a caller wants on every read populated under it,
// e.g. a dashboard that needs to drop all of its widgets at once.
type readScope struct {
	tags []string
}

// WithCacheTags returns a context whose cached reads also carry tags. Scopes
// nest: an inner call adds to the tags of the outer one.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := cache.MergeTags(cacheTagsFromContext(ctx), tags)
	if len(merged) == 0 {
		return ctx
	}
	return context.WithValue(ctx, readScopeKey{}, readScope{tags: merged})
}

func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(readScopeKey{}).(readScope)
	return scope.tags
}
