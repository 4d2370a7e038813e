// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stats maintains incremental rollups over the allocation
// event stream: computed on submission, never by scanning the Store.
package stats

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/heyworks/memtrace/event"
)

const fingerprintFrames = 5
const fingerprintSep = "|"

// FunctionStats is the per-function counter set this package maintains.
type FunctionStats struct {
	Count     uint64
	Total     uint64
	Live      uint64
	Peak      uint64
	Avg       float64
	SizeHist  Histogram
	firstSeen uint64 // insertion sequence, for hotspot tie-breaking
}

// FileStats is the per-file counter set this package maintains.
type FileStats struct {
	Count             uint64
	Total             uint64
	Live              uint64
	FunctionBreakdown map[string]uint64
}

type liveEntry struct {
	function string
	file     string
	size     uint64
	stack    string
}

// Aggregator is the Stats Aggregator. All maintained tables are
// updated incrementally on AddAllocation/MarkFreed; nothing here ever
// rescans the Store.
type Aggregator struct {
	mu sync.Mutex

	functionStats map[string]*FunctionStats
	fileStats     map[string]*FileStats
	callStack     map[string]uint64
	tracking      map[uint64]liveEntry

	seq uint64 // insertion sequence counter, for hotspot tie-breaking

	totalAllocated uint64
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		functionStats: make(map[string]*FunctionStats),
		fileStats:     make(map[string]*FileStats),
		callStack:     make(map[string]uint64),
		tracking:      make(map[uint64]liveEntry),
	}
}

// Initialize resets the Aggregator to an empty state. Idempotent.
func (a *Aggregator) Initialize() { a.Reset() }

// Shutdown is a no-op beyond making intent explicit; the Aggregator
// owns no background resources. Idempotent.
func (a *Aggregator) Shutdown() {}

// Reset clears every maintained table.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.functionStats = make(map[string]*FunctionStats)
	a.fileStats = make(map[string]*FileStats)
	a.callStack = make(map[string]uint64)
	a.tracking = make(map[uint64]liveEntry)
	a.seq = 0
	a.totalAllocated = 0
	a.mu.Unlock()
}

func fingerprint(stack []string) string {
	n := len(stack)
	if n > fingerprintFrames {
		n = fingerprintFrames
	}
	return strings.Join(stack[:n], fingerprintSep)
}

// AddAllocation folds one event into every maintained table.
func (a *Aggregator) AddAllocation(e event.AllocationEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addLocked(e)
}

// AddAllocations folds a batch of events under a single lock
// acquisition.
func (a *Aggregator) AddAllocations(es []event.AllocationEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range es {
		a.addLocked(e)
	}
}

func (a *Aggregator) addLocked(e event.AllocationEvent) {
	if e.Kind == event.Allocate || e.Kind == event.Reallocate || e.Kind == event.External {
		a.totalAllocated += e.Size
	}

	fn := e.CallSiteFunction
	fs, ok := a.functionStats[fn]
	if !ok {
		a.seq++
		fs = &FunctionStats{firstSeen: a.seq}
		a.functionStats[fn] = fs
	}
	fs.Count++
	fs.Total += e.Size
	if e.Size > fs.Peak {
		fs.Peak = e.Size
	}
	fs.Avg = float64(fs.Total) / float64(fs.Count)
	if e.IsLive() {
		fs.Live++
	}
	fs.SizeHist.Add(e.Size)

	file := e.SourceFile
	fls, ok := a.fileStats[file]
	if !ok {
		fls = &FileStats{FunctionBreakdown: make(map[string]uint64)}
		a.fileStats[file] = fls
	}
	fls.Count++
	fls.Total += e.Size
	if e.IsLive() {
		fls.Live++
	}
	fls.FunctionBreakdown[fn]++

	if len(e.StackTrace) > 0 {
		a.callStack[fingerprint(e.StackTrace)]++
	}

	if e.IsLive() {
		a.tracking[e.Address] = liveEntry{
			function: fn,
			file:     file,
			size:     e.Size,
			stack:    fingerprint(e.StackTrace),
		}
	}
}

// MarkFreed decrements the live counters for the event tracked at
// addr, without rescanning the Store, using the allocation-tracking
// side table.
func (a *Aggregator) MarkFreed(addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.untrackLocked(addr)
}

// Evict reconciles the live counters for addr after the Store drops
// the event at addr for being the oldest over its event cap, rather
// than because a free was observed. The traced process still
// considers addr allocated; only this package's own live_count needs
// to shrink so it keeps matching the Store's GetLeaks() count once
// the event falls out of both.
func (a *Aggregator) Evict(addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.untrackLocked(addr)
}

func (a *Aggregator) untrackLocked(addr uint64) {
	le, ok := a.tracking[addr]
	if !ok {
		return
	}
	delete(a.tracking, addr)
	if fs, ok := a.functionStats[le.function]; ok && fs.Live > 0 {
		fs.Live--
	}
	if fls, ok := a.fileStats[le.file]; ok && fls.Live > 0 {
		fls.Live--
	}
}

// GetFunctionStats returns a snapshot copy of every per-function
// counter set.
func (a *Aggregator) GetFunctionStats() map[string]FunctionStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]FunctionStats, len(a.functionStats))
	for k, v := range a.functionStats {
		out[k] = *v
	}
	return out
}

// GetFileStats returns a snapshot copy of every per-file counter set.
func (a *Aggregator) GetFileStats() map[string]FileStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]FileStats, len(a.fileStats))
	for k, v := range a.fileStats {
		fb := make(map[string]uint64, len(v.FunctionBreakdown))
		for fn, c := range v.FunctionBreakdown {
			fb[fn] = c
		}
		cp := *v
		cp.FunctionBreakdown = fb
		out[k] = cp
	}
	return out
}

// GetCallStackStats returns a snapshot of stack-fingerprint
// occurrence counts.
func (a *Aggregator) GetCallStackStats() map[string]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]uint64, len(a.callStack))
	for k, v := range a.callStack {
		out[k] = v
	}
	return out
}

// Hotspot is one entry in GetMemoryHotspots' result.
type Hotspot struct {
	Function string
	Total    uint64
}

// GetMemoryHotspots returns the top-N function names by Total, ties
// broken by insertion order (first function seen ranks first among
// ties).
func (a *Aggregator) GetMemoryHotspots(n int) []Hotspot {
	a.mu.Lock()
	type entry struct {
		fn        string
		total     uint64
		firstSeen uint64
	}
	entries := make([]entry, 0, len(a.functionStats))
	for fn, fs := range a.functionStats {
		entries = append(entries, entry{fn: fn, total: fs.Total, firstSeen: fs.firstSeen})
	}
	a.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].total != entries[j].total {
			return entries[i].total > entries[j].total
		}
		return entries[i].firstSeen < entries[j].firstSeen
	})
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	out := make([]Hotspot, len(entries))
	for i, e := range entries {
		out[i] = Hotspot{Function: e.fn, Total: e.total}
	}
	return out
}

// Summary is GetSummary's flat rollup.
type Summary struct {
	TotalAllocated uint64
	FunctionCount  int
	FileCount      int
	LiveCount      uint64
}

// GetSummary returns process-wide totals reconciled against every
// function's running counters.
func (a *Aggregator) GetSummary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	var live uint64
	for _, fs := range a.functionStats {
		live += fs.Live
	}
	return Summary{
		TotalAllocated: a.totalAllocated,
		FunctionCount:  len(a.functionStats),
		FileCount:      len(a.fileStats),
		LiveCount:      live,
	}
}

// GenerateReport renders a human-readable multi-section report
// combining every maintained table, for consumers that want one
// string rather than the structured accessors (e.g. a CLI or log
// line).
func (a *Aggregator) GenerateReport() string {
	var b strings.Builder
	summary := a.GetSummary()
	b.WriteString("Allocation Report\n")
	b.WriteString("=================\n")
	b.WriteString(fmt.Sprintf("total_allocated=%d functions=%d files=%d live=%d\n",
		summary.TotalAllocated, summary.FunctionCount, summary.FileCount, summary.LiveCount))

	b.WriteString("\nTop functions by total bytes:\n")
	for _, h := range a.GetMemoryHotspots(10) {
		b.WriteString(fmt.Sprintf("  %-32s %d bytes\n", h.Function, h.Total))
	}

	b.WriteString("\nSize distribution:\n")
	for _, bucket := range a.GetSizeDistributionStats() {
		b.WriteString(fmt.Sprintf("  [%d,%s) count=%d\n", bucket.Lo, boundStr(bucket.Hi), bucket.Count))
	}
	return b.String()
}

func boundStr(hi uint64) string {
	if hi == 0 {
		return "inf"
	}
	return strconv.FormatUint(hi, 10)
}
