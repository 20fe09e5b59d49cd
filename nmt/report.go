package nmt

import (
	"fmt"
	"io"

	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
)

// Unit scales the byte counts PrintMemoryUsage and CompareMemoryUsage
// report in.
type Unit int

const (
	UnitBytes Unit = iota
	UnitKB
	UnitMB
)

func (u Unit) divisor() float64 {
	switch u {
	case UnitKB:
		return 1024
	case UnitMB:
		return 1024 * 1024
	default:
		return 1
	}
}

func (u Unit) suffix() string {
	switch u {
	case UnitKB:
		return "KB"
	case UnitMB:
		return "MB"
	default:
		return "B"
	}
}

// PrintMemoryUsage writes the current per-category usage to output. If
// summaryOnly, only the grand total across all categories is written
// (spec.md §6).
func (c *Controller) PrintMemoryUsage(output io.Writer, unit Unit, summaryOnly bool) bool {
	snap := c.snapshotLocked()
	if snap == nil {
		return false
	}
	usage := snap.Copy()

	if summaryOnly {
		var totalCommitted, totalReserved uintptr
		for _, cat := range recordbuf.AllCategories() {
			totalCommitted += usage.Committed[cat]
			totalReserved += usage.Reserved[cat]
		}
		fmt.Fprintf(output, "Total: committed=%.2f%s reserved=%.2f%s\n",
			float64(totalCommitted)/unit.divisor(), unit.suffix(),
			float64(totalReserved)/unit.divisor(), unit.suffix())
		return true
	}

	for _, cat := range recordbuf.AllCategories() {
		fmt.Fprintf(output, "%-12s committed=%.2f%s reserved=%.2f%s\n",
			cat.String(),
			float64(usage.Committed[cat])/unit.divisor(), unit.suffix(),
			float64(usage.Reserved[cat])/unit.divisor(), unit.suffix())
	}
	return true
}

// CompareMemoryUsage writes the diff between the current snapshot and the
// latched baseline to output (spec.md §4.7, §6). Returns false if no
// snapshot exists yet, or if baseline() was never called — the original's
// compare_memory_usage (memTracker.cpp) returns false immediately when
// !_baseline.baselined() rather than treating a missing baseline as zero.
func (c *Controller) CompareMemoryUsage(output io.Writer, unit Unit, summaryOnly bool) bool {
	c.mu.Lock()
	if c.snap == nil || !c.baseline.Valid() {
		c.mu.Unlock()
		return false
	}
	deltas := c.baseline.Diff(c.snap)
	c.mu.Unlock()

	if summaryOnly {
		var totalCommitted, totalReserved int64
		for _, d := range deltas {
			totalCommitted += d.CommittedDelta
			totalReserved += d.ReservedDelta
		}
		fmt.Fprintf(output, "Total delta: committed=%+.2f%s reserved=%+.2f%s\n",
			float64(totalCommitted)/unit.divisor(), unit.suffix(),
			float64(totalReserved)/unit.divisor(), unit.suffix())
		return true
	}

	for _, d := range deltas {
		fmt.Fprintf(output, "%-12s committed=%+.2f%s reserved=%+.2f%s\n",
			d.Category.String(),
			float64(d.CommittedDelta)/unit.divisor(), unit.suffix(),
			float64(d.ReservedDelta)/unit.divisor(), unit.suffix())
	}
	return true
}
