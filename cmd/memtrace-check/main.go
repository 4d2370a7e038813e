// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command memtrace-check sanity-checks a JSON allocation dump: no
// address should be live at two different events without an
// intervening free, per the live-address invariant in the Indexed
// Store.
//
// It cannot check for a double free: a free does not produce its own
// event, only a transition on the event it matches, and that event's
// address is cleared to the released sentinel as soon as the free is
// observed (well before a dump is ever written), so there is nothing
// left in the wire format to recognize a second free against.
//
// Adapted from a consistency checker that walked a binary allocation
// trace directly; this tool instead loads the dump through
// the Store's own ImportFromJson so the same id-stable event log the
// rest of this module uses is what gets checked.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/heyworks/memtrace/internal/addrset"
	"github.com/heyworks/memtrace/store"
)

var printFlag = flag.Bool("print", false, "print events as they're seen")

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Utility that sanity-checks a memtrace JSON dump\n")
		fmt.Fprintf(flag.CommandLine.Output(), "and prints some statistics.\n")
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

	const maxErrors = 20
	var sanity addrset.Set
	var reuseWithoutFree []uint64

	leaks := s.GetLeaks()
	for _, ev := range leaks.Events {
		if *printFlag {
			fmt.Printf("[t=%d] alloc(%d) @ 0x%x fn=%s\n", ev.Timestamp, ev.Size, ev.Address, ev.CallSiteFunction)
		}
		if ok := sanity.Add(ev.Address); !ok {
			reuseWithoutFree = append(reuseWithoutFree, ev.Address)
		}
	}

	summary := s.GetSummary()
	if errcount := len(reuseWithoutFree); errcount != 0 {
		tooMany := errcount > maxErrors
		if tooMany {
			errcount = maxErrors
			fmt.Fprintf(os.Stderr, "found >%d errors in dump:\n", maxErrors)
		} else {
			fmt.Fprintf(os.Stderr, "found %d errors in dump:\n", errcount)
		}
		for i := 0; i < errcount && i < len(reuseWithoutFree); i++ {
			fmt.Fprintf(os.Stderr, "  allocated over live slot 0x%x\n", reuseWithoutFree[i])
		}
		if tooMany {
			fmt.Fprintf(os.Stderr, "too many errors\n")
		}
	}

	fmt.Printf("Events:  %d\n", summary.Count)
	fmt.Printf("Live:    %d\n", summary.LiveCount)
	fmt.Printf("Total:   %d bytes\n", summary.TotalSize)
	fmt.Printf("Evictions: %d\n", s.Evictions())
}
