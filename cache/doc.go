// Package cache provides the per-user cache coordinator used by the cached
// repositories.
//
// # Overview
//
// A Coordinator sits on top of a Store backend and offers three primitives:
//
//   - CacheInfoFor: derives a key and tag set for a user scoped operation
//   - ReadThrough: returns a cached value or computes, stores, and returns it
//   - InvalidateByTags: drops every entry carrying any of the given tags
//
// Every key built by CacheInfoFor carries the user:{id} tag, so all cached
// data of one user can be dropped with a single call no matter how many
// distinct keys exist.
//
// # Basic Usage
//
//	store, _ := cache.NewStore(cache.DefaultConfig())
//	coord := cache.NewCoordinator(store, cache.WithLogger(log))
//
//	key, tags := coord.CacheInfoFor(userID, "find_by_id", id)
//	tags = append(tags, cache.EntityTag("customer", id))
//	customer, err := cache.ReadThrough(ctx, coord, key, tags, 10*time.Minute,
//		func(ctx context.Context) (*model.Customer, error) {
//			return repo.FindByID(ctx, userID, id)
//		})
//
// # Key Serialization Strategy
//
// Keys have the form crm::u{user}::{operation}::{hash}. The hash is the
// xxhash of the reflected argument serialization:
//
//   - Basic types: Direct string representation
//   - Scalar slices: Sorted, so id lists hash the same in any order
//   - Maps: Sorted key-value pairs for deterministic output
//   - Structs: Exported fields with name:value pairs
//   - Times: UTC RFC 3339
//
// # Failure Semantics
//
// The cache is an optimization. A Store read error falls through to the
// producer, an undecodable entry is treated as a miss, and population
// errors are logged and swallowed. TTLs must be strictly positive and not
// above MaxTTL; calls with any other TTL bypass the cache.
//
// Concurrent fills of one key are not de-duplicated. The last writer wins
// and staleness is bounded by the entry TTL.
//
// # Backends
//
// NewStore builds either the in-process sturdyc store or the Redis store
// from Config.Driver. Both index keys by tag.
package cache
