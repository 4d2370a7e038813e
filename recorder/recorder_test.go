package recorder

import (
	"sync"
	"testing"

	"github.com/heyworks/memtrace/event"
)

type fakeStore struct {
	mu          sync.Mutex
	nextID      uint64
	events      []event.AllocationEvent
	freed       map[uint64]bool
	evictedAddr uint64 // reported on the next AddAllocation call, then cleared
}

func newFakeStore() *fakeStore {
	return &fakeStore{freed: make(map[uint64]bool)}
}

func (f *fakeStore) AddAllocation(e event.AllocationEvent) (uint64, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = f.nextID
	f.events = append(f.events, e)
	evicted := f.evictedAddr
	f.evictedAddr = 0
	return e.ID, evicted
}

func (f *fakeStore) MarkFreed(addr uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freed[addr] = true
	return true
}

type fakeStats struct {
	mu     sync.Mutex
	count  int
	freed  int
	evicts []uint64
}

func (f *fakeStats) AddAllocation(e event.AllocationEvent) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func (f *fakeStats) MarkFreed(addr uint64) {
	f.mu.Lock()
	f.freed++
	f.mu.Unlock()
}

func (f *fakeStats) Evict(addr uint64) {
	f.mu.Lock()
	f.evicts = append(f.evicts, addr)
	f.mu.Unlock()
}

func TestOnAllocateAssignsIDAndCommitsToBoth(t *testing.T) {
	st := newFakeStore()
	sa := &fakeStats{}
	r := New(st, sa, 8, 0)

	r.OnAllocate(0x2000, 64, "allocate", 1, 1)

	if len(st.events) != 1 {
		t.Fatalf("got %d committed events, want 1", len(st.events))
	}
	if st.events[0].ID == 0 {
		t.Fatal("committed event should have a non-zero id")
	}
	if sa.count != 1 {
		t.Fatalf("stats.count = %d, want 1", sa.count)
	}
}

func TestOnFreeIgnoresSentinelAddress(t *testing.T) {
	st := newFakeStore()
	sa := &fakeStats{}
	r := New(st, sa, 8, 0)

	r.OnFree(event.ReleasedAddress, 1)
	if sa.freed != 0 {
		t.Fatalf("stats.freed = %d, want 0 for sentinel address", sa.freed)
	}
}

func TestOnFreeRoutesToStoreAndStats(t *testing.T) {
	st := newFakeStore()
	sa := &fakeStats{}
	r := New(st, sa, 8, 0)

	r.OnFree(0x3000, 1)
	if !st.freed[0x3000] {
		t.Fatal("store should have observed the free")
	}
	if sa.freed != 1 {
		t.Fatalf("stats.freed = %d, want 1", sa.freed)
	}
}

func TestCallbackInvokedWithCommittedEvent(t *testing.T) {
	st := newFakeStore()
	sa := &fakeStats{}
	r := New(st, sa, 8, 0)

	var seen *event.AllocationEvent
	r.SetCallback(func(e *event.AllocationEvent) {
		seen = e
	})
	r.OnAllocate(0x4000, 32, "allocate", 1, 1)

	if seen == nil {
		t.Fatal("callback was never invoked")
	}
	if seen.ID == 0 {
		t.Fatal("callback should see the event after id assignment")
	}
}

func TestOnAllocateReconcilesStatsOnStoreEviction(t *testing.T) {
	st := newFakeStore()
	sa := &fakeStats{}
	r := New(st, sa, 8, 0)

	st.evictedAddr = 0x1000
	r.OnAllocate(0x2000, 64, "allocate", 1, 1)

	if len(sa.evicts) != 1 || sa.evicts[0] != 0x1000 {
		t.Fatalf("stats.evicts = %v, want [0x1000]", sa.evicts)
	}
}

func TestOnAllocateSkipsEvictReconciliationWhenNothingEvicted(t *testing.T) {
	st := newFakeStore()
	sa := &fakeStats{}
	r := New(st, sa, 8, 0)

	r.OnAllocate(0x2000, 64, "allocate", 1, 1)

	if len(sa.evicts) != 0 {
		t.Fatalf("stats.evicts = %v, want none", sa.evicts)
	}
}

func TestRecordExternalMarksKind(t *testing.T) {
	st := newFakeStore()
	sa := &fakeStats{}
	r := New(st, sa, 8, 0)

	r.RecordExternal(event.AllocationEvent{Address: 0x5000, Size: 16})
	if len(st.events) != 1 {
		t.Fatalf("got %d committed events, want 1", len(st.events))
	}
	if st.events[0].Kind != event.External {
		t.Fatalf("Kind = %v, want %v", st.events[0].Kind, event.External)
	}
}
