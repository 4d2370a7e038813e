package recorder

import (
	"runtime"

	"github.com/heyworks/memtrace/event"
)

// capturedStack is the result of one stack walk: the resolved symbol
// names plus the innermost frame's source location, a best-effort
// location that falls back to the unknown sentinel when nothing
// resolves.
type capturedStack struct {
	frames []string
	file   string
	line   int32
}

// captureStack collects up to depth frames innermost-first and
// resolves each to a symbolic name, skipping skip frames of the
// recorder/interceptor's own plumbing first.
//
// Grounded on the runtime.Callers usage in
// 0xPolygon-polygon-edge's callers.go and DataDog's
// cmemprof.recordAllocationSample: capture raw PCs first (cheap,
// lock-free), then resolve symbols via runtime.CallersFrames only
// once outside the commit mutex. Empty/unresolved frames are dropped.
func captureStack(skip, depth int) capturedStack {
	out := capturedStack{file: event.UnknownFile, line: event.UnknownLine}
	if depth <= 0 {
		return out
	}
	pcs := make([]uintptr, depth)
	// +2 to additionally skip runtime.Callers itself and this
	// function's own frame.
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return out
	}
	frames := runtime.CallersFrames(pcs[:n])
	out.frames = make([]string, 0, n)
	first := true
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			out.frames = append(out.frames, frame.Function)
			if first {
				out.file = frame.File
				out.line = int32(frame.Line)
				first = false
			}
		}
		if !more {
			break
		}
	}
	return out
}
