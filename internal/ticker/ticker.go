// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ticker runs a single sampling goroutine on an interval,
// adapted from a CLI spinner package: there, a global Start/Stop
// pair owned one goroutine that sampled parser progress for a
// terminal spinner. Here the same shape is generalized into an
// instance (not a package-global) so more than one caller can own a
// sampler concurrently — the Control Surface's background stats
// sampler and cmd/memtrace-sizedist's progress line both use it.
package ticker

import (
	"sync"
	"time"
)

// Ticker owns exactly one background goroutine that calls sample on a
// fixed period, until Stop is called. This is the sole owned thread
// the optional realtime renderer runs on.
type Ticker struct {
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Start begins sampling. It panics if already running, matching the
// spinner package's Start contract: this is a programming error, not
// a runtime condition callers are expected to recover from.
func (t *Ticker) Start(period time.Duration, sample func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		panic("ticker: already running")
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	stopCh, doneCh := t.stopCh, t.doneCh
	go func() {
		defer close(doneCh)
		for {
			sample()
			select {
			case <-stopCh:
				return
			case <-time.After(period):
			}
		}
	}()
}

// Stop halts the background goroutine and waits for it to exit. It is
// a no-op if not running.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	stopCh, doneCh := t.stopCh, t.doneCh
	t.running = false
	t.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Running reports whether the background goroutine is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
