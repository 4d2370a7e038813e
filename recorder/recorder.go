// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recorder is the reentrancy-safe ingress between the
// Interceptor and the Indexed Store / Stats Aggregator. It stamps
// each raw hook call with a timestamp, thread id, and stack trace,
// then hands the event to both downstream consumers under a single
// critical section.
package recorder

import (
	"sync"
	"time"

	"github.com/heyworks/memtrace/event"
)

// Store is the subset of store.Store the Recorder needs. Declared
// here (rather than importing package store directly as a concrete
// type) so tests can substitute a fake.
//
// AddAllocation's second return value carries the address of an
// event the store had to evict to stay within its cap, so the
// Recorder can reconcile it against Stats; it is
// event.ReleasedAddress when nothing live was evicted.
type Store interface {
	AddAllocation(e event.AllocationEvent) (id uint64, evictedAddr uint64)
	MarkFreed(addr uint64) bool
}

// Stats is the subset of stats.Aggregator the Recorder needs.
type Stats interface {
	AddAllocation(e event.AllocationEvent)
	MarkFreed(addr uint64)
	Evict(addr uint64)
}

// processStart anchors every Timestamp to the monotonic clock reading
// time.Now() takes alongside its wall-clock reading. Subtracting two
// such readings via time.Since keeps using the monotonic component,
// so per-thread timestamps stay ordered even across a wall-clock
// adjustment (NTP step, leap second) between two allocations.
var processStart = time.Now()

// Callback is invoked with the just-committed event, inside the
// commit critical section. Implementations must not call back into
// the Recorder. An allocation the callback makes through the
// Interceptor is bypassed by the reentrancy guard the Interceptor
// already holds for the calling goroutine; a direct call to a
// Recorder method from the callback blocks on the commit mutex.
type Callback func(e *event.AllocationEvent)

// Recorder stamps and commits allocation events. The commit mutex
// guards only the two operations that must stay under the lock: the
// store append and the stats live-address update. Timestamping and
// stack resolution happen outside it.
type Recorder struct {
	mu       sync.Mutex
	store    Store
	stats    Stats
	callback Callback
	cbMu     sync.RWMutex

	stackDepth int
	skipFrames int
}

// New creates a Recorder that commits to store and stats, capturing
// up to stackDepth frames per event and skipping skipFrames of its
// own plumbing before handing frames to callers.
func New(store Store, stats Stats, stackDepth, skipFrames int) *Recorder {
	return &Recorder{
		store:      store,
		stats:      stats,
		stackDepth: stackDepth,
		skipFrames: skipFrames,
	}
}

// SetCallback installs the single registered callback. A nil callback
// removes it. Idempotent.
func (r *Recorder) SetCallback(cb Callback) {
	r.cbMu.Lock()
	r.callback = cb
	r.cbMu.Unlock()
}

// OnAllocate implements interceptor.Sink.
func (r *Recorder) OnAllocate(addr, size uint64, fn string, threadID uint64, kind uint8) {
	cs := captureStack(r.skipFrames, r.stackDepth)
	ev := event.AllocationEvent{
		Timestamp:        uint64(time.Since(processStart).Nanoseconds()),
		Address:          addr,
		Size:             size,
		CallSiteFunction: fn,
		SourceFile:       cs.file,
		SourceLine:       cs.line,
		ThreadID:         threadID,
		StackTrace:       cs.frames,
	}
	switch kind {
	case 2: // interceptor.KindReallocate
		ev.Kind = event.Reallocate
	default:
		ev.Kind = event.Allocate
	}
	r.commit(&ev)
}

// OnFree implements interceptor.Sink.
func (r *Recorder) OnFree(addr uint64, threadID uint64) {
	if addr == event.ReleasedAddress {
		return
	}
	r.mu.Lock()
	r.store.MarkFreed(addr)
	r.stats.MarkFreed(addr)
	r.mu.Unlock()
}

// RecordExternal submits an event that did not originate from the
// Interceptor, going through the same commit path as an intercepted
// allocation so ids stay monotonic and stats stay reconciled.
func (r *Recorder) RecordExternal(ev event.AllocationEvent) {
	ev.Kind = event.External
	r.commit(&ev)
}

func (r *Recorder) commit(ev *event.AllocationEvent) {
	r.mu.Lock()
	id, evictedAddr := r.store.AddAllocation(*ev)
	ev.ID = id
	if evictedAddr != event.ReleasedAddress {
		r.stats.Evict(evictedAddr)
	}
	r.stats.AddAllocation(*ev)
	r.cbMu.RLock()
	cb := r.callback
	r.cbMu.RUnlock()
	if cb != nil {
		cb(ev)
	}
	r.mu.Unlock()
}
