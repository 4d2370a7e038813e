package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/heyworks/memtrace/event"
)

// dumpRecord is the stable wire format for the JSON dump. Field
// names and types are part of the contract and must not change.
type dumpRecord struct {
	Timestamp  uint64   `json:"timestamp"`
	Address    uint64   `json:"address"`
	Size       uint64   `json:"size"`
	Function   string   `json:"function"`
	File       string   `json:"file"`
	Line       int32    `json:"line"`
	ThreadID   uint32   `json:"thread_id"`
	StackTrace []string `json:"stack_trace"`
}

type dumpFile struct {
	Allocations []dumpRecord `json:"allocations"`
}

// dumpPath returns <data_dir>/allocations.json, the sole persisted
// artifact this package writes.
func (s *Store) dumpPath() string {
	s.mu.RLock()
	dir := s.dataDir
	s.mu.RUnlock()
	return filepath.Join(dir, "allocations.json")
}

// ExportToJson writes the store's entire event log to
// <data_dir>/allocations.json. Released events are dumped with
// address = 0, the released sentinel. On failure it returns a
// DumpIoFailure-flavored error and logs the path and cause; it never
// panics across the tracer boundary.
func (s *Store) ExportToJson() error {
	s.mu.RLock()
	records := make([]dumpRecord, 0, len(s.order))
	for _, id := range s.order {
		ev := s.events[id]
		records = append(records, dumpRecord{
			Timestamp:  ev.Timestamp,
			Address:    ev.Address,
			Size:       ev.Size,
			Function:   ev.CallSiteFunction,
			File:       ev.SourceFile,
			Line:       ev.SourceLine,
			ThreadID:   uint32(ev.ThreadID),
			StackTrace: ev.StackTrace,
		})
	}
	path := s.dumpPath()
	s.mu.RUnlock()

	data, err := json.Marshal(dumpFile{Allocations: records})
	if err != nil {
		return s.errorf("store: export marshal failed for %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return s.errorf("store: export mkdir failed for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return s.errorf("store: export write failed for %s: %w", path, err)
	}
	return nil
}

// ImportFromJson reads <data_dir>/allocations.json and commits every
// record as an event.External event via AddAllocations, preserving
// the original address verbatim (it will not, in general, be a valid
// pointer in this process). A non-existent file or malformed JSON is
// an ImportParseFailure: logged and reported as a non-nil error, the
// store is left unchanged.
//
// Decoding large dumps shards the record-to-event conversion across
// GOMAXPROCS goroutines with an errgroup, the same sharding shape
// parse.go uses to build its batch index concurrently — here over an
// in-memory slice rather than a memory-mapped trace file, since the
// whole file is already decoded before any event can be committed.
func (s *Store) ImportFromJson() error {
	path := s.dumpPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return s.errorf("store: import read failed for %s: %w", path, err)
	}

	var df dumpFile
	if err := json.Unmarshal(data, &df); err != nil {
		return s.errorf("store: import parse failed for %s: %w", path, err)
	}

	events := make([]event.AllocationEvent, len(df.Allocations))
	shards := runtime.GOMAXPROCS(-1)
	if shards > len(df.Allocations) {
		shards = 1
	}
	if shards < 1 {
		shards = 1
	}
	chunk := (len(df.Allocations) + shards - 1) / shards
	var eg errgroup.Group
	for i := 0; i < shards; i++ {
		start := i * chunk
		end := start + chunk
		if end > len(df.Allocations) {
			end = len(df.Allocations)
		}
		if start >= end {
			continue
		}
		eg.Go(func() error {
			for j := start; j < end; j++ {
				r := df.Allocations[j]
				events[j] = event.AllocationEvent{
					Timestamp:        r.Timestamp,
					Address:          r.Address,
					Size:             r.Size,
					Kind:             event.External,
					CallSiteFunction: r.Function,
					SourceFile:       r.File,
					SourceLine:       r.Line,
					ThreadID:         uint64(r.ThreadID),
					StackTrace:       r.StackTrace,
				}
			}
			return nil
		})
	}
	_ = eg.Wait() // shard bodies never return an error

	s.AddAllocations(events)
	return nil
}
