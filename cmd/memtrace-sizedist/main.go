// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command memtrace-sizedist prints the size distribution of the
// allocations still live in a JSON allocation dump, bucketed the way
// the Stats Aggregator buckets it. Released events (dumped with
// address 0) are not counted.
//
// Adapted from a size-distribution tool that maintained its own
// SizeHist while walking a binary trace live; this tool instead
// lets package stats own the histogram and reports it after an
// ImportFromJson/AddAllocations pass, since the dump is already fully
// materialized rather than streamed.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/heyworks/memtrace/internal/ticker"
	"github.com/heyworks/memtrace/stats"
	"github.com/heyworks/memtrace/store"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Utility that prints an allocation size\n")
		fmt.Fprintf(flag.CommandLine.Output(), "distribution from a memtrace JSON dump.\n")
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <data-dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func handleError(err error, usage bool) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if usage {
		flag.Usage()
	}
	os.Exit(1)
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		handleError(errors.New("incorrect number of arguments"), true)
	}
	dir := flag.Arg(0)

	s := store.New(0)
	if err := s.Initialize(dir); err != nil {
		handleError(fmt.Errorf("initializing store: %v", err), false)
	}
	fmt.Println("Importing dump...")
	if err := s.ImportFromJson(); err != nil {
		handleError(fmt.Errorf("importing dump: %v", err), false)
	}

	agg := stats.New()
	leaks := s.GetLeaks()

	var sampled int
	tck := ticker.Ticker{}
	tck.Start(500*time.Millisecond, func() {
		fmt.Printf("Processing... %d/%d\r", sampled, len(leaks.Events))
	})
	for _, ev := range leaks.Events {
		agg.AddAllocation(ev)
		sampled++
	}
	tck.Stop()
	fmt.Println()

	fmt.Println("Size distribution:")
	for _, b := range agg.GetSizeDistributionStats() {
		hi := "inf"
		if b.Hi != 0 {
			hi = fmt.Sprintf("%d", b.Hi)
		}
		fmt.Printf("  [%d,%s) count=%d\n", b.Lo, hi, b.Count)
	}
}
