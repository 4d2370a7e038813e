// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package interceptor hooks the process's allocation primitives so
// that every allocate/free/reallocate call is observed, then forwards
// to the original implementation. It resolves its own bootstrap and
// reentrancy hazards before any event ever reaches the recorder.
package interceptor

import (
	"sync/atomic"
	"unsafe"
)

// Sink receives raw events from the Interceptor. recorder.Recorder
// implements it; this package depends only on this interface, not on
// package recorder.
type Sink interface {
	// OnAllocate is called after a successful allocate/reallocate
	// with the new address, size, symbolic label, and the
	// capturing goroutine's id.
	OnAllocate(addr, size uint64, fn string, threadID uint64, kind uint8)
	// OnFree is called before the underlying free/reallocate runs,
	// with the address being released and the capturing goroutine's
	// id. Addr is guaranteed non-zero.
	OnFree(addr uint64, threadID uint64)
}

// Kind values passed to Sink.OnAllocate, mirroring event.Kind without
// introducing an import of package event (which this package has no
// other reason to depend on).
const (
	KindAllocate   uint8 = 1
	KindReallocate uint8 = 2
)

// Interceptor replaces the process-wide allocate/free/reallocate
// entry points for any caller that routes through it.
type Interceptor struct {
	next      atomic.Pointer[Allocator]
	sink      atomic.Pointer[Sink]
	capturing atomic.Bool
	guard     reentrancyGuard

	resolveFailed atomic.Bool
}

// New creates an Interceptor in degraded pass-through mode: until
// Install supplies a next implementation, hooks fall back to
// DefaultAllocator, the well-defined low-level primitive required
// during bootstrap.
func New() *Interceptor {
	ic := &Interceptor{}
	var fallback Allocator = DefaultAllocator
	ic.next.Store(&fallback)
	return ic
}

// Install resolves the pointer to the next underlying allocator
// implementation. It is the Go-native analogue of a dynamic-linker
// symbol search: once next is non-nil, hook bodies stop falling back
// to the raw primitive.
func (ic *Interceptor) Install(next Allocator) {
	if next == nil {
		ic.resolveFailed.Store(true)
		return
	}
	ic.next.Store(&next)
	ic.resolveFailed.Store(false)
}

// Uninstall reverts to the raw fallback allocator. Idempotent.
func (ic *Interceptor) Uninstall() {
	var fallback Allocator = DefaultAllocator
	ic.next.Store(&fallback)
	ic.resolveFailed.Store(false)
}

// ResolutionFailed reports whether the Interceptor is running in
// degraded pass-through mode because Install was called with a nil
// implementation.
func (ic *Interceptor) ResolutionFailed() bool {
	return ic.resolveFailed.Load()
}

// SetSink registers the Event Recorder that receives raw events.
// A nil sink disables recording without affecting the capturing gate.
func (ic *Interceptor) SetSink(s Sink) {
	if s == nil {
		ic.sink.Store(nil)
		return
	}
	ic.sink.Store(&s)
}

// SetCapturing sets the process-wide capturing gate. Reads are
// ordered but need not be synchronized with writes: a stale true may
// record one extra event across a stop, a stale false may miss one;
// both are acceptable.
func (ic *Interceptor) SetCapturing(on bool) {
	ic.capturing.Store(on)
}

// Capturing reports the current state of the gate.
func (ic *Interceptor) Capturing() bool {
	return ic.capturing.Load()
}

func addressOf(b []byte) uint64 {
	p := unsafe.SliceData(b)
	if p == nil {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(p)))
}

func (ic *Interceptor) underlying() Allocator {
	p := ic.next.Load()
	if p == nil {
		return DefaultAllocator
	}
	return *p
}

func (ic *Interceptor) emit(f func(s Sink)) {
	p := ic.sink.Load()
	if p == nil {
		return
	}
	f(*p)
}

// Allocate returns a pointer of size >= n. On success, with capturing
// on and outside the reentrancy guard, it emits an Allocate event
// carrying the returned address, n, and the symbolic label
// "allocate". It fails only by returning the underlying allocator's
// null indication (a nil slice).
func (ic *Interceptor) Allocate(n int) []byte {
	alreadyIn, gid := ic.guard.Enter()
	if alreadyIn {
		return ic.underlying().Allocate(n)
	}
	defer ic.guard.Exit(gid)

	b := ic.underlying().Allocate(n)
	if b == nil {
		return nil
	}
	if ic.capturing.Load() {
		addr := addressOf(b)
		if addr != 0 || n == 0 {
			ic.emit(func(s Sink) {
				s.OnAllocate(addr, uint64(n), "allocate", gid, KindAllocate)
			})
		}
	}
	return b
}

// Free emits a deallocation mark for b's address (live -> released in
// the Store) before calling the underlying free. It is idempotent for
// addresses the Store doesn't know about (the Recorder/Store produce
// no event in that case) and does not consult the live-address map
// when b is nil. A non-nil zero-length slice still has an address
// and is reported, so the event Allocate(0) recorded for it can be
// released.
func (ic *Interceptor) Free(b []byte) {
	alreadyIn, gid := ic.guard.Enter()
	if alreadyIn {
		ic.underlying().Free(b)
		return
	}
	defer ic.guard.Exit(gid)

	addr := addressOf(b)
	if addr != 0 && ic.capturing.Load() {
		ic.emit(func(s Sink) {
			s.OnFree(addr, gid)
		})
	}
	ic.underlying().Free(b)
}

// Reallocate emits, in this order, a deallocation mark for b's
// address (if non-zero) and an Allocate event for the returned
// address (if non-zero). The two events carry the same calling
// goroutine id and adjacent timestamps but are not otherwise linked.
func (ic *Interceptor) Reallocate(n int, b []byte) []byte {
	alreadyIn, gid := ic.guard.Enter()
	if alreadyIn {
		return ic.underlying().Reallocate(n, b)
	}
	defer ic.guard.Exit(gid)

	oldAddr := addressOf(b)
	capturing := ic.capturing.Load()
	if oldAddr != 0 && capturing {
		ic.emit(func(s Sink) {
			s.OnFree(oldAddr, gid)
		})
	}

	nb := ic.underlying().Reallocate(n, b)
	if nb == nil {
		return nil
	}
	if capturing {
		newAddr := addressOf(nb)
		if newAddr != 0 || n == 0 {
			ic.emit(func(s Sink) {
				s.OnAllocate(newAddr, uint64(n), "reallocate", gid, KindReallocate)
			})
		}
	}
	return nb
}
