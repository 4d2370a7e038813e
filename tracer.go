// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memtrace is the Control Surface: lifecycle, configuration,
// and the query facade consumed by renderers and exporters. It wires
// the Interceptor, Event Recorder, Indexed Store, and Stats
// Aggregator into one handle.
package memtrace

import (
	"log"
	"time"

	"github.com/heyworks/memtrace/event"
	"github.com/heyworks/memtrace/interceptor"
	"github.com/heyworks/memtrace/internal/ticker"
	"github.com/heyworks/memtrace/recorder"
	"github.com/heyworks/memtrace/stats"
	"github.com/heyworks/memtrace/store"
)

// Logger is the narrow seam this module writes internal failures to.
// Satisfied by default with the standard library's log package —
// see DESIGN.md for why no structured-logging dependency is pulled
// in for this seam.
type Logger interface {
	Printf(format string, args ...any)
}

type stdLogger struct{ l *log.Logger }

func (s stdLogger) Printf(format string, args ...any) { s.l.Printf(format, args...) }

// storeLoggerAdapter lets a memtrace.Logger satisfy store.Logger
// without store importing this package (which would cycle).
type storeLoggerAdapter struct{ Logger }

// Snapshot is the aggregate view the background renderer sampler
// hands to its callback: the Stats Aggregator's rollup alongside the
// Store's flat live-event summary.
type Snapshot struct {
	Stats stats.Summary
	Store store.Summary
}

// RendererFunc receives one Snapshot per sampling period.
type RendererFunc func(Snapshot)

// Tracer is the Control Surface handle: one Interceptor, one
// Recorder, one Store, one Aggregator, and the optional background
// renderer sampler.
type Tracer struct {
	cfg event.Config

	interceptor *interceptor.Interceptor
	recorder    *recorder.Recorder
	store       *store.Store
	stats       *stats.Aggregator

	logger Logger

	renderer       RendererFunc
	rendererPeriod time.Duration
	sampler        ticker.Ticker

	shutdown bool
}

// DefaultRendererPeriod is the sampling interval used when
// SetRenderer is called without a prior call to SetRendererPeriod.
const DefaultRendererPeriod = time.Second

// New creates a Tracer with default configuration. Call Initialize
// before starting capture.
func New() *Tracer {
	cfg := event.DefaultConfig()
	t := &Tracer{
		cfg:            cfg,
		interceptor:    interceptor.New(),
		store:          store.New(cfg.EventCap),
		stats:          stats.New(),
		logger:         stdLogger{log.Default()},
		rendererPeriod: DefaultRendererPeriod,
	}
	t.recorder = recorder.New(t.store, t.stats, cfg.StackDepth, recorderSkipFrames)
	t.interceptor.SetSink(t.recorder)
	return t
}

// recorderSkipFrames is the number of innermost frames belonging to
// the recorder's and interceptor's own call path, skipped so
// stack_trace never starts with the tracer's own plumbing. Callers
// reach the intercepted primitives directly through Interceptor(),
// with no Tracer-owned frame in between; the four skipped frames are
// Recorder.OnAllocate, the Interceptor's emit closure, emit itself,
// and Interceptor.Allocate (or Reallocate).
const recorderSkipFrames = 4

// SetDataDir overrides the directory ExportToJson/ImportFromJson use.
// Must be called before Initialize to take effect.
func (t *Tracer) SetDataDir(dir string) {
	t.cfg.DataDir = dir
}

// SetLogger installs the logger internal failures are written to.
// It is installed on the Store immediately; a failure inside
// Initialize is only logged through it if it was set beforehand.
func (t *Tracer) SetLogger(l Logger) {
	if l == nil {
		l = stdLogger{log.Default()}
	}
	t.logger = l
	t.store.SetLogger(storeLoggerAdapter{l})
}

// Initialize prepares the Store's data directory and resets the
// Stats Aggregator. Idempotent; a no-op after Shutdown.
func (t *Tracer) Initialize() error {
	if t.shutdown {
		return nil
	}
	t.stats.Initialize()
	return t.store.Initialize(t.cfg.DataDir)
}

// StartCapture opens the capturing gate and, if a renderer is
// registered, starts the background sampler. Idempotent.
func (t *Tracer) StartCapture() {
	if t.shutdown {
		return
	}
	t.interceptor.SetCapturing(true)
	if t.renderer != nil && !t.sampler.Running() {
		t.sampler.Start(t.rendererPeriod, t.sampleAndRender)
	}
}

// StopCapture closes the capturing gate for new intercepted calls.
// It does not wait for in-flight calls to commit. Idempotent.
func (t *Tracer) StopCapture() {
	if t.shutdown {
		return
	}
	t.interceptor.SetCapturing(false)
}

// IsCapturing reports the current state of the capturing gate.
func (t *Tracer) IsCapturing() bool {
	return t.interceptor.Capturing()
}

// GetAllocations returns every live, retained event in insertion
// order, the same population GetLeaks exposes on the Store directly.
func (t *Tracer) GetAllocations() []event.AllocationEvent {
	return t.store.GetLeaks().Events
}

// Clear empties the Store and resets the Stats Aggregator, leaving
// the capturing gate and renderer registration untouched. Idempotent.
func (t *Tracer) Clear() {
	if t.shutdown {
		return
	}
	t.store.Clear()
	t.stats.Reset()
}

// SetCallback installs the callback invoked synchronously, inside the
// Recorder's commit critical section, for every committed event. A
// nil callback removes it.
func (t *Tracer) SetCallback(cb func(e *event.AllocationEvent)) {
	t.recorder.SetCallback(recorder.Callback(cb))
}

// SetRenderer registers the callback the background sampler invokes
// on each tick with a fresh Snapshot. A nil renderer stops and clears
// any running sampler. Registering a renderer while capturing is
// already on starts the sampler immediately; otherwise it starts on
// the next StartCapture.
func (t *Tracer) SetRenderer(r RendererFunc) {
	t.renderer = r
	if r == nil {
		if t.sampler.Running() {
			t.sampler.Stop()
		}
		return
	}
	if t.IsCapturing() && !t.sampler.Running() {
		t.sampler.Start(t.rendererPeriod, t.sampleAndRender)
	}
}

// SetRendererPeriod sets the background sampler's tick interval. It
// takes effect on the next StartCapture or SetRenderer call that
// starts the sampler; it does not restart an already-running one.
func (t *Tracer) SetRendererPeriod(d time.Duration) {
	if d <= 0 {
		d = DefaultRendererPeriod
	}
	t.rendererPeriod = d
}

func (t *Tracer) sampleAndRender() {
	r := t.renderer
	if r == nil {
		return
	}
	r(Snapshot{Stats: t.stats.GetSummary(), Store: t.store.GetSummary()})
}

// SetEventCap changes the Store's retained-event cap, evicting the
// oldest events immediately if the store is currently over the new
// cap. Any evicted event that was still live has its Stats
// Aggregator counters reconciled so they keep matching GetLeaks().
func (t *Tracer) SetEventCap(n uint64) {
	t.cfg.EventCap = n
	for _, addr := range t.store.SetMaxAllocations(n) {
		t.stats.Evict(addr)
	}
}

// Store returns the underlying Indexed Store, for callers that need
// the query surface beyond GetAllocations.
func (t *Tracer) Store() *store.Store { return t.store }

// Stats returns the underlying Stats Aggregator.
func (t *Tracer) Stats() *stats.Aggregator { return t.stats }

// Interceptor returns the underlying Interceptor, so a caller can
// install a real Allocator (or route cgo-wrapped C allocator hooks,
// see interceptor/cgo_wrap.go) in place of the raw fallback.
func (t *Tracer) Interceptor() *interceptor.Interceptor { return t.interceptor }

// Shutdown stops capture, joins the renderer sampler if running,
// drains nothing further (the tracer owns no in-flight work beyond
// the caller's own stack), flushes the optional JSON dump, and clears
// all state. Terminal: Initialize, StartCapture, StopCapture, Clear
// and Shutdown are no-ops afterwards. SetCallback, SetRenderer and
// SetEventCap do not check for Shutdown and still update the
// tracer's registrations and cap.
func (t *Tracer) Shutdown() {
	if t.shutdown {
		return
	}
	t.interceptor.SetCapturing(false)
	if t.sampler.Running() {
		t.sampler.Stop()
	}
	if err := t.store.ExportToJson(); err != nil {
		t.logger.Printf("memtrace: dump on shutdown failed: %v", err)
	}
	t.store.Clear()
	t.stats.Reset()
	t.store.Shutdown()
	t.stats.Shutdown()
	t.shutdown = true
}
