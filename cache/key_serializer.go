package cache

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

var timeType = reflect.TypeOf(time.Time{})

// canonicalSerializer writes query arguments in a canonical text form:
//
//   - scalars as their %v text, times as UTC RFC 3339,
//   - scalar slices as sorted sets, other slices in order,
//   - maps with sorted entries,
//   - structs as their non-zero exported fields, so adding a filter field
//     leaves existing keys unchanged.
type canonicalSerializer struct{}

// NewDefaultKeySerializer returns the serializer used by Coordinator.
func NewDefaultKeySerializer() KeySerializer {
	return canonicalSerializer{}
}

func (s canonicalSerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return method
	}
	var b strings.Builder
	b.WriteString(method)
	for _, arg := range args {
		b.WriteString(KeySeparator)
		s.write(&b, reflect.ValueOf(arg))
	}
	return b.String()
}

func (s canonicalSerializer) encode(v reflect.Value) string {
	var b strings.Builder
	s.write(&b, v)
	return b.String()
}

func (s canonicalSerializer) write(b *strings.Builder, v reflect.Value) {
	if !v.IsValid() {
		b.WriteString("nil")
		return
	}
	if v.Type() == timeType {
		b.WriteString("time:")
		b.WriteString(v.Interface().(time.Time).UTC().Format(time.RFC3339Nano))
		return
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			b.WriteString("nil")
			return
		}
		s.write(b, v.Elem())
	case reflect.String:
		b.WriteString(v.String())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case reflect.Slice:
		if v.IsNil() {
			b.WriteString("slice:nil")
			return
		}
		s.writeList(b, v, "slice")
	case reflect.Array:
		s.writeList(b, v, "array")
	case reflect.Map:
		if v.IsNil() {
			b.WriteString("map:nil")
			return
		}
		s.writeMap(b, v)
	case reflect.Struct:
		s.writeStruct(b, v)
	case reflect.Func, reflect.Chan:
		fmt.Fprintf(b, "%s:%x", v.Kind(), v.Pointer())
	default:
		fmt.Fprintf(b, "%v", v.Interface())
	}
}

func (s canonicalSerializer) writeList(b *strings.Builder, v reflect.Value, label string) {
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = s.encode(v.Index(i))
	}
	if v.Kind() == reflect.Slice && isScalar(v.Type().Elem().Kind()) {
		sort.Strings(parts)
		label = "set"
	}
	fmt.Fprintf(b, "%s[%d]:{%s}", label, len(parts), strings.Join(parts, ","))
}

func (s canonicalSerializer) writeMap(b *strings.Builder, v reflect.Value) {
	pairs := make([]string, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		pairs = append(pairs, s.encode(iter.Key())+"="+s.encode(iter.Value()))
	}
	sort.Strings(pairs)
	fmt.Fprintf(b, "map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

func (s canonicalSerializer) writeStruct(b *strings.Builder, v reflect.Value) {
	t := v.Type()
	b.WriteString("struct:{")
	first := true
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fv := v.Field(i)
		if !f.IsExported() || fv.IsZero() {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(f.Name)
		b.WriteByte(':')
		s.write(b, fv)
	}
	b.WriteByte('}')
}

// isScalar excludes uint8 so byte slices keep their order.
func isScalar(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
