package snapshot

import "github.com/kolkov/nativemem/internal/nmt/recordbuf"

// Baseline is a latched copy of Usage captured at a user-chosen moment,
// for later diffing against the live snapshot (spec.md §4.7).
type Baseline struct {
	usage Usage
	valid bool
}

// Capture latches a copy of the snapshot's current usage into b,
// replacing whatever baseline was latched before.
func (b *Baseline) Capture(s *Snapshot) {
	b.usage = s.Copy()
	b.valid = true
}

// Valid reports whether Capture has ever been called.
func (b *Baseline) Valid() bool { return b.valid }

// CategoryDelta is the per-category difference between the live snapshot
// and the latched baseline.
type CategoryDelta struct {
	Category       recordbuf.Category
	CommittedDelta int64
	ReservedDelta  int64
}

// Diff computes per-category deltas between s's current usage and b's
// latched usage. An unlatched Baseline's usage is its zero value, so Diff
// against one reports every category's current totals as its delta —
// unlike compare_memory_usage (memTracker.cpp), which refuses to run at
// all and returns false before any baseline() call. Callers that need
// that refusal behavior must check Valid() themselves before calling Diff
// (see nmt.Controller.CompareMemoryUsage).
func (b *Baseline) Diff(s *Snapshot) []CategoryDelta {
	cur := s.Copy()
	deltas := make([]CategoryDelta, 0, len(categoriesOrder))
	for _, cat := range categoriesOrder {
		i := categoryIndex(cat)
		deltas = append(deltas, CategoryDelta{
			Category:       cat,
			CommittedDelta: int64(cur.Committed[i]) - int64(b.usage.Committed[i]),
			ReservedDelta:  int64(cur.Reserved[i]) - int64(b.usage.Reserved[i]),
		})
	}
	return deltas
}
