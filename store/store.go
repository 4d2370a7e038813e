// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store owns the committed allocation event log and its
// secondary indexes, and answers the query operations consumed by
// renderers and exporters.
package store

import (
	"fmt"
	"os"
	"sync"

	"github.com/heyworks/memtrace/event"
)

// Logger is the narrow seam package memtrace defines for writing
// internal failures to an external logger collaborator. Store
// depends on the interface, not a concrete logging library, so
// callers can supply whatever they already use.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Store is the Indexed Store: an append-order event log plus
// by_function, by_file, and by_time secondary indexes.
//
// Design requirement: secondary indexes must not dangle when the
// primary sequence trims. This implementation chose stable,
// store-assigned event ids over rewriting stored positions on every
// eviction — see DESIGN.md. All three indexes therefore store event
// ids, and eviction removes the evicted id from every index instead of
// invalidating a slice position.
type Store struct {
	mu sync.RWMutex

	maxEvents uint64
	dataDir   string
	logger    Logger

	events map[uint64]*event.AllocationEvent
	order  []uint64 // primary sequence, insertion order, oldest first

	byFunction map[string][]uint64
	byFile     map[string][]uint64
	byTime     []timeEntry

	liveAddr map[uint64]uint64 // address -> event id

	nextID    uint64
	evictions uint64
}

type timeEntry struct {
	ts uint64
	id uint64
}

// New creates an empty Store with the given event cap. A cap of 0
// means DefaultEventCap.
func New(maxEvents uint64) *Store {
	if maxEvents == 0 {
		maxEvents = event.DefaultEventCap
	}
	return &Store{
		maxEvents:  maxEvents,
		dataDir:    event.DefaultDataDir,
		logger:     nopLogger{},
		events:     make(map[uint64]*event.AllocationEvent),
		byFunction: make(map[string][]uint64),
		byFile:     make(map[string][]uint64),
		liveAddr:   make(map[uint64]uint64),
	}
}

// SetLogger installs the logger internal failures are written to.
func (s *Store) SetLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// Initialize creates dir (mode 0755) if absent and records it as the
// directory used by ExportToJson/ImportFromJson's default path.
func (s *Store) Initialize(dir string) error {
	if dir == "" {
		dir = event.DefaultDataDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Printf("store: failed to create data dir %q: %v", dir, err)
		return err
	}
	s.mu.Lock()
	s.dataDir = dir
	s.mu.Unlock()
	return nil
}

// Shutdown is a no-op beyond making intent explicit; the Store owns
// no background resources of its own. Idempotent.
func (s *Store) Shutdown() {}

// SetMaxAllocations changes the event cap. If the store currently
// holds more events than the new cap, the oldest are evicted
// immediately; their addresses are returned for the caller to
// reconcile against any live counters it keeps outside the Store,
// filtered to those that were still live at eviction time.
func (s *Store) SetMaxAllocations(n uint64) []uint64 {
	if n == 0 {
		n = event.DefaultEventCap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxEvents = n
	var evicted []uint64
	for uint64(len(s.order)) > s.maxEvents {
		if addr := s.evictOldestLocked(); addr != event.ReleasedAddress {
			evicted = append(evicted, addr)
		}
	}
	return evicted
}

// Clear removes all events and resets every index. The event id
// counter is NOT reset, so ids remain unique across the store's
// lifetime even through Clear.
func (s *Store) Clear() {
	s.mu.Lock()
	s.events = make(map[uint64]*event.AllocationEvent)
	s.order = s.order[:0]
	s.byFunction = make(map[string][]uint64)
	s.byFile = make(map[string][]uint64)
	s.byTime = s.byTime[:0]
	s.liveAddr = make(map[uint64]uint64)
	s.evictions = 0
	s.mu.Unlock()
}

// AddAllocation commits a single event, assigning it the next
// monotonic id, and returns that id. This is the Store's half of the
// Event Recorder's single critical section per event: append to the
// primary sequence plus the two hash-map index updates.
//
// If committing e evicts the oldest retained event to stay within
// the cap and that evicted event was still live, evictedAddr carries
// its address so the caller can reconcile any live counters it keeps
// outside the Store; evictedAddr is event.ReleasedAddress otherwise.
func (s *Store) AddAllocation(e event.AllocationEvent) (id uint64, evictedAddr uint64) {
	s.mu.Lock()
	id, evictedAddr = s.addLocked(e)
	s.mu.Unlock()
	return id, evictedAddr
}

// AddAllocations commits a batch under a single lock acquisition,
// returning the assigned ids in input order. Used only by the bulk
// JSON import path, which does not feed a live Stats Aggregator, so
// any evictions it causes are not individually reported; a caller
// that needs eviction reconciliation should use AddAllocation.
func (s *Store) AddAllocations(es []event.AllocationEvent) []uint64 {
	ids := make([]uint64, len(es))
	s.mu.Lock()
	for i, e := range es {
		ids[i], _ = s.addLocked(e)
	}
	s.mu.Unlock()
	return ids
}

func (s *Store) addLocked(e event.AllocationEvent) (id uint64, evictedAddr uint64) {
	s.nextID++
	id = s.nextID
	e.ID = id

	if uint64(len(s.order)) >= s.maxEvents {
		evictedAddr = s.evictOldestLocked()
	}

	stored := e
	s.events[id] = &stored
	s.order = append(s.order, id)

	if e.CallSiteFunction != "" {
		s.byFunction[e.CallSiteFunction] = append(s.byFunction[e.CallSiteFunction], id)
	}
	if e.SourceFile != "" {
		s.byFile[e.SourceFile] = append(s.byFile[e.SourceFile], id)
	}
	s.insertByTimeLocked(e.Timestamp, id)

	if e.IsLive() {
		s.liveAddr[e.Address] = id
	}
	return id, evictedAddr
}

func (s *Store) insertByTimeLocked(ts, id uint64) {
	lo, hi := 0, len(s.byTime)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.byTime[mid].ts <= ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	s.byTime = append(s.byTime, timeEntry{})
	copy(s.byTime[lo+1:], s.byTime[lo:])
	s.byTime[lo] = timeEntry{ts: ts, id: id}
}

// evictOldestLocked drops the oldest retained event from the primary
// sequence and every secondary index. It returns the evicted event's
// address if the event was still live, so the caller can reconcile
// any live counters kept outside the Store; it returns
// event.ReleasedAddress if there was nothing to evict or the evicted
// event had already been marked freed.
func (s *Store) evictOldestLocked() uint64 {
	if len(s.order) == 0 {
		return event.ReleasedAddress
	}
	id := s.order[0]
	s.order = s.order[1:]
	ev, ok := s.events[id]
	if !ok {
		return event.ReleasedAddress
	}
	delete(s.events, id)
	s.evictions++

	s.byFunction[ev.CallSiteFunction] = removeID(s.byFunction[ev.CallSiteFunction], id)
	if len(s.byFunction[ev.CallSiteFunction]) == 0 {
		delete(s.byFunction, ev.CallSiteFunction)
	}
	s.byFile[ev.SourceFile] = removeID(s.byFile[ev.SourceFile], id)
	if len(s.byFile[ev.SourceFile]) == 0 {
		delete(s.byFile, ev.SourceFile)
	}
	s.byTime = removeTimeEntry(s.byTime, id)

	if ev.IsLive() {
		if cur, ok := s.liveAddr[ev.Address]; ok && cur == id {
			delete(s.liveAddr, ev.Address)
			return ev.Address
		}
	}
	return event.ReleasedAddress
}

func removeID(s []uint64, id uint64) []uint64 {
	for i, v := range s {
		if v == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func removeTimeEntry(s []timeEntry, id uint64) []timeEntry {
	for i, v := range s {
		if v.id == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// MarkFreed transitions the live event at addr to released, clearing
// its Address field to the sentinel. It returns false (no event
// produced) for addresses the Store doesn't know about, and must not
// be called with addr == event.ReleasedAddress by the caller (the
// Recorder enforces this before calling in).
func (s *Store) MarkFreed(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.liveAddr[addr]
	if !ok {
		return false
	}
	delete(s.liveAddr, addr)
	ev, ok := s.events[id]
	if !ok {
		return false
	}
	ev.MarkReleased()
	return true
}

// Evictions returns the count of OverCapacityEvict occurrences since
// the Store was created or last Cleared — an informational counter,
// not an error.
func (s *Store) Evictions() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evictions
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Summary is the flat rollup GetSummary returns, the shape every
// event-accumulating component here exposes (simulation.Stats, the
// bpf-recorder's ProcessStats).
type Summary struct {
	Count     uint64
	TotalSize uint64
	LiveCount uint64
	LiveSize  uint64
}

// GetSummary returns a flat rollup over the entire store.
func (s *Store) GetSummary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum Summary
	for _, id := range s.order {
		ev := s.events[id]
		sum.Count++
		sum.TotalSize += ev.Size
		if ev.IsLive() {
			sum.LiveCount++
			sum.LiveSize += ev.Size
		}
	}
	return sum
}

func (s *Store) errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	s.logger.Printf("%v", err)
	return err
}
