package interceptor

import (
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the calling goroutine's id from the header line
// of runtime.Stack's output ("goroutine 34 [running]: ..."). Go does
// not expose a native thread-local storage primitive, so this is the
// standard substitute used by goroutine-local-storage and APM-style
// instrumentation libraries across the ecosystem for exactly this
// purpose: a cheap, stable per-goroutine key to guard against an
// instrumentation hook re-entering itself.
//
// It is called by reentrancyGuard.Enter below, so once per
// intercepted allocate/free/reallocate call.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if len(b) <= len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	b = b[len(prefix):]
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// reentrancyGuard is the per-thread (here: per-goroutine) flag: on
// entry to an intercepted primitive, the hook atomically sets the
// flag; if already set, recording is bypassed entirely. This
// guarantees bounded recursion depth of 1 for any allocation
// performed by the capture pipeline itself (growing the event log,
// resolving a symbol, formatting a stack frame).
type reentrancyGuard struct {
	active sync.Map // goroutine id -> struct{}
}

// Enter returns true if this goroutine is already inside a guarded
// section (the caller must bypass recording and call through to the
// underlying allocator only), along with the goroutine id to hand
// back to Exit.
func (g *reentrancyGuard) Enter() (alreadyIn bool, gid uint64) {
	gid = goroutineID()
	_, loaded := g.active.LoadOrStore(gid, struct{}{})
	return loaded, gid
}

// Exit clears the guard for the given goroutine id. It is always
// called on Enter's non-reentrant path, even if the guarded body
// panics, via defer at the call site.
func (g *reentrancyGuard) Exit(gid uint64) {
	g.active.Delete(gid)
}
