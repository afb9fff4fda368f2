package cache

import "time"

// QueryMetadata carries the bookkeeping kept alongside a cached query
// result: the inferred kind, the lower-cased referenced tables, a rough
// complexity score, a byte-size estimate, and access accounting.
type QueryMetadata struct {
	Kind         QueryKind
	Tables       []string
	Complexity   int
	SizeEstimate int
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// QueryCacheEntry is the {data, metadata, expiresAt} triple stored in the
// QUERY_RESULT region.
type QueryCacheEntry struct {
	Data      any
	Metadata  QueryMetadata
	ExpiresAt time.Time
}

// complexityScore is a coarse heuristic: count of JOIN/subquery/GROUP
// BY/ORDER BY keywords, used only to inform diagnostics, never
// correctness.
func complexityScore(sql string) int {
	score := 1
	lower := NormalizeSQL(sql)
	for _, kw := range []string{"join", "group by", "order by", "union", "having", "distinct", "(select"} {
		score += countOccurrences(lower, kw)
	}
	return score
}

func countOccurrences(haystack, needle string) int {
	n := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			n++
		}
	}
	return n
}
