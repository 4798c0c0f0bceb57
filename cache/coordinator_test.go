package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// memoryStore is a minimal Store that records calls.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	tags    map[string]map[string]struct{}
	getErr  error
	setErr  error
	sets    int
	lastTTL time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entries: map[string][]byte{},
		tags:    map[string]map[string]struct{}{},
	}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.lastTTL = ttl
	if m.setErr != nil {
		return m.setErr
	}
	m.entries[key] = value
	for _, tag := range tags {
		if m.tags[tag] == nil {
			m.tags[tag] = map[string]struct{}{}
		}
		m.tags[tag][key] = struct{}{}
	}
	return nil
}

func (m *memoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *memoryStore) DeleteByTags(_ context.Context, tags ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tag := range tags {
		for key := range m.tags[tag] {
			if _, ok := m.entries[key]; ok {
				delete(m.entries, key)
				n++
			}
		}
		delete(m.tags, tag)
	}
	return n, nil
}

type record struct {
	ID   int64
	Name string
}

func countingFetch(calls *int, value record) FetchFn[record] {
	return func(context.Context) (record, error) {
		*calls++
		return value, nil
	}
}

func TestCoordinator_CacheInfoFor(t *testing.T) {
	c := NewCoordinator(newMemoryStore())

	key, tags := c.CacheInfoFor(7, "find_by_ids", []int64{3, 1, 2})
	other, _ := c.CacheInfoFor(7, "find_by_ids", []int64{1, 2, 3})
	foreign, _ := c.CacheInfoFor(8, "find_by_ids", []int64{1, 2, 3})

	if key != other {
		t.Errorf("id order must not change the key: %q vs %q", key, other)
	}
	if key == foreign {
		t.Error("keys of different users must differ")
	}
	if !strings.HasPrefix(key, "crm::u7::find_by_ids::") {
		t.Errorf("unexpected key layout %q", key)
	}
	if len(tags) != 1 || tags[0] != "user:7" {
		t.Errorf("expected user tag, got %v", tags)
	}

	bare, _ := c.CacheInfoFor(7, "count")
	if bare != "crm::u7::count" {
		t.Errorf("argument-less key = %q", bare)
	}
}

func TestReadThrough_FetchesOnce(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newMemoryStore())
	key, tags := c.CacheInfoFor(1, "find_by_id", 10)

	calls := 0
	fetch := countingFetch(&calls, record{ID: 10, Name: "Ada"})

	first, err := ReadThrough(ctx, c, key, tags, time.Minute, fetch)
	if err != nil {
		t.Fatalf("first ReadThrough() error = %v", err)
	}
	second, err := ReadThrough(ctx, c, key, tags, time.Minute, fetch)
	if err != nil {
		t.Fatalf("second ReadThrough() error = %v", err)
	}

	if calls != 1 {
		t.Errorf("expected producer to run once, ran %d times", calls)
	}
	if first != second {
		t.Errorf("expected equal values, got %+v and %+v", first, second)
	}
}

func TestReadThrough_PointerValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newMemoryStore())
	key, tags := c.CacheInfoFor(1, "find_by_id", 1)

	fetch := func(context.Context) (*record, error) { return &record{ID: 1, Name: "Ada"}, nil }

	_, _ = ReadThrough(ctx, c, key, tags, time.Minute, fetch)
	a, _ := ReadThrough(ctx, c, key, tags, time.Minute, fetch)
	a.Name = "mutated"
	b, _ := ReadThrough(ctx, c, key, tags, time.Minute, fetch)

	if b.Name != "Ada" {
		t.Errorf("cached value was shared with a caller, got %q", b.Name)
	}
}

func TestReadThrough_InvalidTTLBypasses(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	c := NewCoordinator(store)

	for _, ttl := range []time.Duration{0, -time.Second, MaxTTL + time.Second} {
		calls := 0
		_, err := ReadThrough(ctx, c, "k", nil, ttl, countingFetch(&calls, record{ID: 1}))
		if err != nil {
			t.Fatalf("ttl %s: unexpected error %v", ttl, err)
		}
		if calls != 1 {
			t.Errorf("ttl %s: expected producer call", ttl)
		}
	}
	if store.sets != 0 {
		t.Errorf("invalid ttl must never populate, got %d sets", store.sets)
	}
}

func TestReadThrough_StoreFailuresNeverReachCaller(t *testing.T) {
	ctx := context.Background()

	t.Run("read error falls through", func(t *testing.T) {
		store := newMemoryStore()
		store.getErr = errors.New("backend down")
		c := NewCoordinator(store)

		calls := 0
		got, err := ReadThrough(ctx, c, "k", nil, time.Minute, countingFetch(&calls, record{ID: 3}))
		if err != nil || got.ID != 3 || calls != 1 {
			t.Errorf("got %+v err=%v calls=%d", got, err, calls)
		}
	})

	t.Run("write error is swallowed", func(t *testing.T) {
		store := newMemoryStore()
		store.setErr = errors.New("disk full")
		c := NewCoordinator(store)

		calls := 0
		got, err := ReadThrough(ctx, c, "k", nil, time.Minute, countingFetch(&calls, record{ID: 4}))
		if err != nil || got.ID != 4 {
			t.Errorf("got %+v err=%v", got, err)
		}
	})

	t.Run("corrupt entry is a miss", func(t *testing.T) {
		store := newMemoryStore()
		store.entries["k"] = []byte{0xc1}
		c := NewCoordinator(store)

		calls := 0
		got, err := ReadThrough(ctx, c, "k", nil, time.Minute, countingFetch(&calls, record{ID: 5}))
		if err != nil || got.ID != 5 || calls != 1 {
			t.Errorf("got %+v err=%v calls=%d", got, err, calls)
		}
	})
}

func TestReadThrough_ProducerErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	c := NewCoordinator(store)

	boom := errors.New("not found")
	_, err := ReadThrough(ctx, c, "k", nil, time.Minute, func(context.Context) (record, error) {
		return record{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected producer error, got %v", err)
	}
	if store.sets != 0 {
		t.Error("errors must not be cached")
	}
}

func TestReadThroughIf_SkipsUncacheable(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	c := NewCoordinator(store)

	inFlight := func(r record) bool { return r.Name != "processing" }

	calls := 0
	fetch := countingFetch(&calls, record{ID: 1, Name: "processing"})
	_, _ = ReadThroughIf(ctx, c, "k", nil, time.Minute, fetch, inFlight)
	_, _ = ReadThroughIf(ctx, c, "k", nil, time.Minute, fetch, inFlight)

	if calls != 2 {
		t.Errorf("uncacheable values must be fetched every time, got %d calls", calls)
	}
}

func TestInvalidateByTags_Completeness(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newMemoryStore())

	var keys []string
	for i := int64(0); i < 5; i++ {
		key, tags := c.CacheInfoFor(42, "find_by_id", i)
		calls := 0
		_, _ = ReadThrough(ctx, c, key, tags, time.Minute, countingFetch(&calls, record{ID: i}))
		keys = append(keys, key)
	}
	otherKey, otherTags := c.CacheInfoFor(43, "find_by_id", int64(0))
	calls := 0
	_, _ = ReadThrough(ctx, c, otherKey, otherTags, time.Minute, countingFetch(&calls, record{}))

	if err := c.InvalidateByTags(ctx, UserTag(42)); err != nil {
		t.Fatalf("InvalidateByTags() error = %v", err)
	}

	for _, key := range keys {
		calls := 0
		_, _ = ReadThrough(ctx, c, key, []string{UserTag(42)}, time.Minute, countingFetch(&calls, record{}))
		if calls != 1 {
			t.Errorf("expected miss for %s after invalidation", key)
		}
	}

	calls = 0
	_, _ = ReadThrough(ctx, c, otherKey, otherTags, time.Minute, countingFetch(&calls, record{}))
	if calls != 0 {
		t.Error("other user's entries must stay cached")
	}
}

func TestMergeTags(t *testing.T) {
	got := MergeTags([]string{"user:1", "", "customer:2"}, []string{"user:1", AuditRecentTag})
	want := []string{AuditRecentTag, "customer:2", "user:1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("MergeTags() = %v, want %v", got, want)
	}
}

func TestValidateTTL(t *testing.T) {
	if err := ValidateTTL(time.Minute); err != nil {
		t.Errorf("ValidateTTL(1m) = %v", err)
	}
	if err := ValidateTTL(MaxTTL); err != nil {
		t.Errorf("ValidateTTL(MaxTTL) = %v", err)
	}
	if err := ValidateTTL(0); err == nil {
		t.Error("expected error for zero ttl")
	}
}
