package cache

import (
	"sort"
	"strconv"
)

// Shared tags that are not scoped to a single user.
const (
	AuditRecentTag  = "audit:recent"
	AuditHistoryTag = "audit:history"
)

// UserTag is carried by every entry holding data owned by userID.
func UserTag(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// EntityTag labels entries derived from a single record, e.g. customer:42.
func EntityTag(entity string, id int64) string {
	return entity + ":" + strconv.FormatInt(id, 10)
}

// MergeTags joins tag lists, drops blanks and duplicates, and sorts the result.
func MergeTags(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, tag := range list {
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}
