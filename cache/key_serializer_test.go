package cache

import (
	"strings"
	"testing"
	"time"
)

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

func TestDefaultKeySerializer_BasicTypes(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	tests := []struct {
		name   string
		method string
		args   []any
		want   string
	}{
		{
			name:   "no args",
			method: "count",
			args:   []any{},
			want:   "count",
		},
		{
			name:   "single int",
			method: "find_by_id",
			args:   []any{42},
			want:   joinWithSeparator("find_by_id", "42"),
		},
		{
			name:   "multiple basic types",
			method: "recent",
			args:   []any{int64(7), "acme", true},
			want:   joinWithSeparator("recent", "7", "acme", "true"),
		},
		{
			name:   "nil pointer",
			method: "find_by_slug",
			args:   []any{(*string)(nil)},
			want:   joinWithSeparator("find_by_slug", "nil"),
		},
		{
			name:   "time is normalized to utc",
			method: "between",
			args:   []any{time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))},
			want:   joinWithSeparator("between", "time:2026-01-02T02:04:05Z"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serializer.SerializeKey(tt.method, tt.args...)
			if got != tt.want {
				t.Errorf("SerializeKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultKeySerializer_ScalarSlicesAreSets(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	tests := []struct {
		name string
		a    any
		b    any
	}{
		{"int64 ids", []int64{3, 1, 2}, []int64{1, 2, 3}},
		{"strings", []string{"bob", "alice"}, []string{"alice", "bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := serializer.SerializeKey("find_by_ids", tt.a)
			kb := serializer.SerializeKey("find_by_ids", tt.b)
			if ka != kb {
				t.Errorf("expected order independent keys, got %q and %q", ka, kb)
			}
		})
	}

	if got := serializer.SerializeKey("ids", []int{2, 1}); got != joinWithSeparator("ids", "set[2]:{1,2}") {
		t.Errorf("unexpected set encoding %q", got)
	}
	if got := serializer.SerializeKey("ids", ([]int)(nil)); got != joinWithSeparator("ids", "slice:nil") {
		t.Errorf("unexpected nil slice encoding %q", got)
	}
}

func TestDefaultKeySerializer_Structs(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	type filter struct {
		Search string
		From   *time.Time
		hidden int
	}

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	later := day.Add(24 * time.Hour)

	a := serializer.SerializeKey("search", filter{Search: "acme", From: &day, hidden: 1})
	b := serializer.SerializeKey("search", filter{Search: "acme", From: &day, hidden: 2})
	c := serializer.SerializeKey("search", filter{Search: "acme", From: &later})

	if a != b {
		t.Errorf("unexported fields must not affect keys: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("different dates must produce different keys, both %q", a)
	}
	if !strings.Contains(a, "Search:acme") {
		t.Errorf("expected field name in key, got %q", a)
	}
}

func TestDefaultKeySerializer_Maps(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	a := serializer.SerializeKey("m", map[string]int{"b": 2, "a": 1})
	b := serializer.SerializeKey("m", map[string]int{"a": 1, "b": 2})
	if a != b {
		t.Errorf("map keys must be sorted: %q vs %q", a, b)
	}
	if a != joinWithSeparator("m", "map[2]:{a=1,b=2}") {
		t.Errorf("unexpected map encoding %q", a)
	}
}

func TestDefaultKeySerializer_ZeroFieldsOmitted(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	type v1 struct {
		Search string
	}
	type v2 struct {
		Search  string
		Company string
	}

	a := serializer.SerializeKey("search", v1{Search: "acme"})
	b := serializer.SerializeKey("search", v2{Search: "acme"})
	if a != b {
		t.Errorf("zero fields must not change keys: %q vs %q", a, b)
	}
	if a != joinWithSeparator("search", "struct:{Search:acme}") {
		t.Errorf("unexpected struct encoding %q", a)
	}
}
