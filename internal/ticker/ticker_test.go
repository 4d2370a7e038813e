package ticker

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestStartSamplesUntilStop(t *testing.T) {
	var tck Ticker
	var count atomic.Int32
	tck.Start(5*time.Millisecond, func() {
		count.Add(1)
	})
	time.Sleep(30 * time.Millisecond)
	tck.Stop()

	if tck.Running() {
		t.Fatal("ticker should not report running after Stop")
	}
	if count.Load() < 2 {
		t.Fatalf("sample was called %d times, want at least 2", count.Load())
	}
}

func TestStopIsNoopWhenNotRunning(t *testing.T) {
	var tck Ticker
	tck.Stop() // must not panic or block
}

func TestStartTwiceWithoutStopPanics(t *testing.T) {
	var tck Ticker
	tck.Start(time.Second, func() {})
	defer tck.Stop()

	defer func() {
		if recover() == nil {
			t.Fatal("second Start before Stop should panic")
		}
	}()
	tck.Start(time.Second, func() {})
}

func TestStopWaitsForGoroutineExit(t *testing.T) {
	var tck Ticker
	var count atomic.Int32
	tck.Start(time.Millisecond, func() {
		count.Add(1)
	})
	tck.Stop()
	if tck.Running() {
		t.Fatal("Running() should be false immediately after Stop returns")
	}
	n := count.Load()
	time.Sleep(10 * time.Millisecond)
	if got := count.Load(); got != n {
		t.Fatalf("sample ran %d more times after Stop returned, want 0", got-n)
	}
}
