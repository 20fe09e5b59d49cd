package snapshot

import (
	"testing"

	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
)

func TestBaselineInvalidBeforeCapture(t *testing.T) {
	var b Baseline
	if b.Valid() {
		t.Fatal("Valid() = true before any Capture()")
	}
}

func TestBaselineDiffAgainstUnlatchedTreatsZero(t *testing.T) {
	s := New()
	s.Apply([]recordbuf.Record{
		{Addr: 0x1000, Size: 100, Tag: recordbuf.NewTag(recordbuf.OpMalloc, recordbuf.CategoryCode), Seq: 1},
	}, 1)

	var b Baseline
	deltas := b.Diff(s)

	found := false
	for _, d := range deltas {
		if d.Category == recordbuf.CategoryCode {
			found = true
			if d.CommittedDelta != 100 {
				t.Fatalf("CommittedDelta = %d, want 100 against an unlatched (zero) baseline", d.CommittedDelta)
			}
		}
	}
	if !found {
		t.Fatal("Diff() did not include CategoryCode")
	}
}

func TestBaselineCaptureThenDiff(t *testing.T) {
	s := New()
	s.Apply([]recordbuf.Record{
		{Addr: 0x1000, Size: 100, Tag: recordbuf.NewTag(recordbuf.OpMalloc, recordbuf.CategoryCode), Seq: 1},
	}, 1)

	var b Baseline
	b.Capture(s)
	if !b.Valid() {
		t.Fatal("Valid() = false after Capture()")
	}

	s.Apply([]recordbuf.Record{
		{Addr: 0x2000, Size: 50, Tag: recordbuf.NewTag(recordbuf.OpMalloc, recordbuf.CategoryCode), Seq: 2},
	}, 2)

	deltas := b.Diff(s)
	for _, d := range deltas {
		if d.Category == recordbuf.CategoryCode && d.CommittedDelta != 50 {
			t.Fatalf("CommittedDelta = %d, want 50 (only the growth since Capture)", d.CommittedDelta)
		}
	}
}

func TestBaselineDiffCoversAllCategories(t *testing.T) {
	s := New()
	var b Baseline
	deltas := b.Diff(s)
	if len(deltas) != len(recordbuf.AllCategories()) {
		t.Fatalf("Diff() returned %d entries, want %d (one per category)", len(deltas), len(recordbuf.AllCategories()))
	}
}
