package store

import (
	"testing"

	"github.com/heyworks/memtrace/event"
)

func mkEvent(ts, addr, size uint64, fn, file string) event.AllocationEvent {
	return event.AllocationEvent{
		Timestamp:        ts,
		Address:          addr,
		Size:             size,
		Kind:             event.Allocate,
		CallSiteFunction: fn,
		SourceFile:       file,
	}
}

func TestAddAllocationAssignsMonotonicIDs(t *testing.T) {
	s := New(100)
	id1, _ := s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	id2, _ := s.AddAllocation(mkEvent(2, 0x2, 8, "f", "a.go"))
	if id2 <= id1 {
		t.Fatalf("id2 (%d) should be greater than id1 (%d)", id2, id1)
	}
}

func TestEvictionKeepsIndexesConsistent(t *testing.T) {
	s := New(2)
	s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	s.AddAllocation(mkEvent(2, 0x2, 8, "f", "a.go"))
	s.AddAllocation(mkEvent(3, 0x3, 8, "f", "a.go"))

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if s.Evictions() != 1 {
		t.Fatalf("Evictions() = %d, want 1", s.Evictions())
	}
	res := s.QueryByFunction("f")
	if res.TotalCount != 2 {
		t.Fatalf("QueryByFunction total = %d, want 2 (evicted event must be gone from index)", res.TotalCount)
	}
}

func TestAddAllocationReportsEvictedLiveAddress(t *testing.T) {
	s := New(1)
	_, evicted := s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	if evicted != 0 {
		t.Fatalf("first insert evicted = 0x%x, want 0 (nothing to evict yet)", evicted)
	}
	_, evicted = s.AddAllocation(mkEvent(2, 0x2, 8, "f", "a.go"))
	if evicted != 0x1 {
		t.Fatalf("evicted = 0x%x, want 0x1 (the live event pushed out by the cap)", evicted)
	}
}

func TestAddAllocationDoesNotReportEvictedReleasedAddress(t *testing.T) {
	s := New(1)
	s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	s.MarkFreed(0x1)
	_, evicted := s.AddAllocation(mkEvent(2, 0x2, 8, "f", "a.go"))
	if evicted != 0 {
		t.Fatalf("evicted = 0x%x, want 0 (the evicted event was already released)", evicted)
	}
}

func TestSetMaxAllocationsReturnsEvictedLiveAddresses(t *testing.T) {
	s := New(10)
	s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	s.AddAllocation(mkEvent(2, 0x2, 8, "f", "a.go"))
	s.AddAllocation(mkEvent(3, 0x3, 8, "f", "a.go"))
	s.MarkFreed(0x2)

	evicted := s.SetMaxAllocations(1)
	if len(evicted) != 1 || evicted[0] != 0x1 {
		t.Fatalf("evicted = %v, want [0x1] (only the live one of the two dropped events)", evicted)
	}
}

func TestMarkFreedTransitionsLiveToReleased(t *testing.T) {
	s := New(10)
	s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	if ok := s.MarkFreed(0x1); !ok {
		t.Fatal("MarkFreed should succeed for a known live address")
	}
	leaks := s.GetLeaks()
	if leaks.TotalCount != 0 {
		t.Fatalf("GetLeaks() after free should be empty, got %d", leaks.TotalCount)
	}
	if ok := s.MarkFreed(0x1); ok {
		t.Fatal("MarkFreed should fail for an already-released address")
	}
}

func TestQueryByFunctionSkipsReleasedEvents(t *testing.T) {
	s := New(10)
	s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	s.AddAllocation(mkEvent(2, 0x2, 8, "f", "a.go"))
	s.MarkFreed(0x1)

	res := s.QueryByFunction("f")
	if res.TotalCount != 1 {
		t.Fatalf("TotalCount = %d, want 1 (released event must be excluded)", res.TotalCount)
	}
}

func TestQueryByTimeRangeIncludesReleasedEvents(t *testing.T) {
	s := New(10)
	s.AddAllocation(mkEvent(1, 0x1, 32, "f", "a.go"))
	s.AddAllocation(mkEvent(2, 0x2, 8, "f", "a.go"))
	s.MarkFreed(0x1)

	res := s.QueryByTimeRange(0, 10)
	if res.TotalCount != 2 {
		t.Fatalf("TotalCount = %d, want 2 (time range query includes released events)", res.TotalCount)
	}
	if res.TotalSize != 8 {
		t.Fatalf("TotalSize = %d, want 8 (released event 0x1's size must not count)", res.TotalSize)
	}
	if res.PeakUsage != 8 {
		t.Fatalf("PeakUsage = %d, want 8 (released event 0x1 must not set the peak)", res.PeakUsage)
	}
}

func TestGetAllocationTimelineBucketsFromGlobalMin(t *testing.T) {
	s := New(10)
	s.AddAllocation(mkEvent(100, 0x1, 8, "f", "a.go"))
	s.AddAllocation(mkEvent(150, 0x2, 16, "f", "a.go"))
	s.AddAllocation(mkEvent(250, 0x3, 32, "f", "a.go"))

	buckets := s.GetAllocationTimeline(100)
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(buckets))
	}
	if buckets[0].BucketStart != 100 {
		t.Fatalf("first bucket start = %d, want 100 (aligned to global min)", buckets[0].BucketStart)
	}
	if buckets[0].TotalSize != 24 {
		t.Fatalf("first bucket total = %d, want 24", buckets[0].TotalSize)
	}
}

func TestExportImportJsonRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(10)
	if err := s.Initialize(dir); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	s.AddAllocation(mkEvent(2, 0x2, 16, "f", "a.go"))
	s.MarkFreed(0x1)

	if err := s.ExportToJson(); err != nil {
		t.Fatalf("ExportToJson() error = %v", err)
	}

	s2 := New(10)
	if err := s2.Initialize(dir); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := s2.ImportFromJson(); err != nil {
		t.Fatalf("ImportFromJson() error = %v", err)
	}
	if s2.Len() != 2 {
		t.Fatalf("Len() after import = %d, want 2", s2.Len())
	}
	leaks := s2.GetLeaks()
	if leaks.TotalCount != 1 {
		t.Fatalf("live count after import = %d, want 1 (one released, one live)", leaks.TotalCount)
	}
}

func TestClearResetsEventsButNotIDCounter(t *testing.T) {
	s := New(10)
	id1, _ := s.AddAllocation(mkEvent(1, 0x1, 8, "f", "a.go"))
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", s.Len())
	}
	id2, _ := s.AddAllocation(mkEvent(2, 0x2, 8, "f", "a.go"))
	if id2 <= id1 {
		t.Fatalf("id counter should not reset across Clear: id1=%d id2=%d", id1, id2)
	}
}
