// Package repositorycache wraps the scoped repositories with read-through
// caching and tag invalidation.
//
// One generic Decorator[T] carries the shared logic. It is parameterized by
// entity name, id extractor and a TTLTable. The entity wrappers (Customers,
// Imports, Exports, Audit) implement the repository interfaces and delegate
// to it.
//
// Reads that return a single record or a small bounded collection go
// through the cache. Paginated listings, streams and in-flight job records
// are never cached. Every entry is tagged user:{id} so all of a user's data
// can be dropped at once.
//
// Writes call the base repository first. Only a successful write
// invalidates; a write rejected for ownership, a missing record or a lost
// compare-and-swap leaves the cache untouched.
//
//	coord := cache.NewCoordinator(store)
//	customers, err := repositorycache.NewCustomers(repository.NewCustomers(db), coord, nil)
//	c, err := customers.FindByID(ctx, userID, 42)
package repositorycache
