package capture

import (
	"math"
	"sort"

	"request-recorder/internal/domain"
)

// MemoryGuard bounds the in-flight correlation table. When the table grows
// past Ceiling, the oldest fifth of the entries (by capture timestamp) is
// silently dropped. Evicted entries are still in flight and incomplete, so
// they are never persisted.
type MemoryGuard struct {
	Ceiling int
}

const evictKeepFraction = 0.8

// Evict trims the table in place and returns how many entries were removed.
// After eviction the table holds ceil(N*0.8) entries.
func (g MemoryGuard) Evict(table map[domain.NativeRequestID]*domain.CapturedRequest) int {
	n := len(table)
	if g.Ceiling <= 0 || n <= g.Ceiling {
		return 0
	}
	keep := int(math.Ceil(float64(n) * evictKeepFraction))
	type entry struct {
		id domain.NativeRequestID
		ts int64
	}
	entries := make([]entry, 0, n)
	for id, rec := range table {
		entries = append(entries, entry{id: id, ts: rec.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })
	evicted := 0
	for _, e := range entries[:n-keep] {
		delete(table, e.id)
		evicted++
	}
	return evicted
}
