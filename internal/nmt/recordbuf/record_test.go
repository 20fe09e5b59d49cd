package recordbuf

import "testing"

func TestRecorderFillsToCapacity(t *testing.T) {
	r := newRecorder(4)
	for i := 0; i < 4; i++ {
		if !r.Record(uintptr(i), 8, NewTag(OpMalloc, CategoryOther), uint32(i), 0) {
			t.Fatalf("Record() returned false before reaching capacity at i=%d", i)
		}
	}
	if !r.IsFull() {
		t.Fatal("IsFull() = false after filling to capacity")
	}
	if r.Record(99, 8, NewTag(OpMalloc, CategoryOther), 99, 0) {
		t.Fatal("Record() returned true on a full recorder")
	}
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
}

func TestRecorderAppendOrderPreserved(t *testing.T) {
	r := newRecorder(3)
	r.Record(1, 10, NewTag(OpMalloc, CategoryOther), 1, 0)
	r.Record(2, 20, NewTag(OpFree, CategoryOther), 2, 0)

	recs := r.Records()
	if len(recs) != 2 {
		t.Fatalf("Records() len = %d, want 2", len(recs))
	}
	if recs[0].Addr != 1 || recs[1].Addr != 2 {
		t.Fatalf("Records() out of append order: %+v", recs)
	}
}

func TestRecorderClearResetsLenKeepsCapacity(t *testing.T) {
	r := newRecorder(2)
	r.Record(1, 1, NewTag(OpMalloc, CategoryOther), 1, 0)
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after Clear(), want 0", r.Len())
	}
	if r.IsFull() {
		t.Fatal("IsFull() = true right after Clear()")
	}
	if !r.Record(2, 2, NewTag(OpMalloc, CategoryOther), 2, 0) {
		t.Fatal("Record() failed on a cleared recorder")
	}
}

func TestRecorderGenerationStamp(t *testing.T) {
	r := newRecorder(1)
	if r.Generation() != 0 {
		t.Fatalf("Generation() = %d on a fresh recorder, want 0", r.Generation())
	}
	r.SetGeneration(7)
	if r.Generation() != 7 {
		t.Fatalf("Generation() = %d after SetGeneration(7)", r.Generation())
	}
}

func TestFootprintBytesIsPositive(t *testing.T) {
	if got := FootprintBytes(); got == 0 {
		t.Fatal("FootprintBytes() = 0, want a positive per-Recorder overhead estimate")
	}
}

func TestRecorderLinkage(t *testing.T) {
	a := newRecorder(1)
	b := newRecorder(1)
	if a.Next() != nil {
		t.Fatal("Next() != nil on a fresh recorder")
	}
	a.SetNext(b)
	if a.Next() != b {
		t.Fatal("SetNext/Next did not round-trip")
	}
}
