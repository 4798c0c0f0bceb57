package repositorycache

import (
	"strings"
	"unicode"
)

// operationName builds the key segment for an entity operation, e.g.
// ("customer", "FindByEmail") -> "customer_find_by_email". Anything other than
// letters and digits collapses to a single underscore so the segment never
// contains the key separator.
func operationName(entity, op string) string {
	return toSnake(entity + "_" + op)
}

func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	pendingSep := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					pendingSep = true
				}
			}
			writeSep(&b, &pendingSep)
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r) || unicode.IsDigit(r):
			writeSep(&b, &pendingSep)
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

func writeSep(b *strings.Builder, pending *bool) {
	if *pending && b.Len() > 0 {
		b.WriteByte('_')
	}
	*pending = false
}
