package store

import "github.com/heyworks/memtrace/event"

// QueryResult carries every query operation's answer: the matching
// events plus three aggregate figures. peak_usage is deliberately
// the maximum individual event size in the returned set, not a
// time-integrated high-water mark — a documented simplification, not
// a bug.
type QueryResult struct {
	Events     []event.AllocationEvent
	TotalCount uint64
	TotalSize  uint64
	PeakUsage  uint64
}

// newQueryResult aggregates evs into a QueryResult. When
// liveSizeOnly is true, a released event still counts toward
// TotalCount but its size is excluded from TotalSize/PeakUsage.
func newQueryResult(evs []event.AllocationEvent, liveSizeOnly bool) QueryResult {
	r := QueryResult{Events: evs}
	for _, e := range evs {
		r.TotalCount++
		if liveSizeOnly && !e.IsLive() {
			continue
		}
		r.TotalSize += e.Size
		if e.Size > r.PeakUsage {
			r.PeakUsage = e.Size
		}
	}
	return r
}

// QueryByFunction returns live events whose CallSiteFunction == name.
func (s *Store) QueryByFunction(name string) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byFunction[name]
	evs := make([]event.AllocationEvent, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.events[id]; ok && ev.IsLive() {
			evs = append(evs, *ev)
		}
	}
	return newQueryResult(evs, false)
}

// QueryByFile returns live events whose SourceFile == path.
func (s *Store) QueryByFile(path string) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byFile[path]
	evs := make([]event.AllocationEvent, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.events[id]; ok && ev.IsLive() {
			evs = append(evs, *ev)
		}
	}
	return newQueryResult(evs, false)
}

// QueryBySizeRange returns live events with lo <= size <= hi.
func (s *Store) QueryBySizeRange(lo, hi uint64) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var evs []event.AllocationEvent
	for _, id := range s.order {
		ev := s.events[id]
		if ev.IsLive() && ev.Size >= lo && ev.Size <= hi {
			evs = append(evs, *ev)
		}
	}
	return newQueryResult(evs, false)
}

// QueryByTimeRange returns events (live and released) with
// t0 <= timestamp <= t1. Both contribute to TotalCount, but a
// released event's size does not contribute to TotalSize/PeakUsage:
// only a still-live event is occupying memory at query time.
func (s *Store) QueryByTimeRange(t0, t1 uint64) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := searchByTime(s.byTime, t0)
	var evs []event.AllocationEvent
	for i := lo; i < len(s.byTime); i++ {
		te := s.byTime[i]
		if te.ts > t1 {
			break
		}
		if ev, ok := s.events[te.id]; ok {
			evs = append(evs, *ev)
		}
	}
	return newQueryResult(evs, true)
}

func searchByTime(entries []timeEntry, t0 uint64) int {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].ts < t0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// GetLeaks returns every event still live at call time, in insertion
// order.
func (s *Store) GetLeaks() QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := make([]event.AllocationEvent, 0, len(s.liveAddr))
	for _, id := range s.order {
		ev := s.events[id]
		if ev.IsLive() {
			evs = append(evs, *ev)
		}
	}
	return newQueryResult(evs, false)
}

// TimelineBucket is one entry in GetAllocationTimeline's result.
type TimelineBucket struct {
	BucketStart uint64
	TotalSize   uint64
}

// GetAllocationTimeline buckets live events by timestamp into
// bucket-width windows aligned to the store's global minimum
// timestamp, summing live sizes per bucket.
func (s *Store) GetAllocationTimeline(bucket uint64) []TimelineBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bucket == 0 || len(s.order) == 0 {
		return nil
	}
	minTS := s.byTime[0].ts

	buckets := make(map[uint64]uint64)
	var order []uint64
	for _, id := range s.order {
		ev := s.events[id]
		if !ev.IsLive() {
			continue
		}
		bstart := minTS + ((ev.Timestamp-minTS)/bucket)*bucket
		if _, ok := buckets[bstart]; !ok {
			order = append(order, bstart)
		}
		buckets[bstart] += ev.Size
	}

	// Stable output order: ascending by bucket start.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}

	out := make([]TimelineBucket, 0, len(order))
	for _, b := range order {
		out = append(out, TimelineBucket{BucketStart: b, TotalSize: buckets[b]})
	}
	return out
}
