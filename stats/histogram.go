// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stats

// bucketBounds are the fixed size-histogram buckets: lower-bound
// inclusive, upper-bound exclusive. A Hi of 0 means unbounded (the
// final, [65536, inf) bucket).
var bucketBounds = []struct{ lo, hi uint64 }{
	{0, 16},
	{16, 32},
	{32, 64},
	{64, 128},
	{128, 256},
	{256, 512},
	{512, 1024},
	{1024, 4096},
	{4096, 16384},
	{16384, 65536},
	{65536, 0},
}

// bucketCount is len(bucketBounds); array sizes require a constant.
const bucketCount = 11

// Histogram is the fixed-bucket size histogram each FunctionStats
// carries: a small fixed-size count array plus Add/ForEach, rather
// than a generic histogram dependency — the bucket set here is fixed
// and small, so nothing a dependency would add pays for itself.
type Histogram struct {
	counts [bucketCount]uint64
}

func bucketIndex(size uint64) int {
	for i, b := range bucketBounds {
		if size >= b.lo && (b.hi == 0 || size < b.hi) {
			return i
		}
	}
	return len(bucketBounds) - 1
}

// Add records one observation of size.
func (h *Histogram) Add(size uint64) {
	h.counts[bucketIndex(size)]++
}

// Bucket is one non-empty row of GetSizeDistributionStats' result.
type Bucket struct {
	Lo, Hi uint64
	Count  uint64
}

// ForEach calls f for every non-empty bucket, lowest bound first.
func (h *Histogram) ForEach(f func(lo, hi, count uint64)) {
	for i, b := range bucketBounds {
		if h.counts[i] != 0 {
			f(b.lo, b.hi, h.counts[i])
		}
	}
}

// GetSizeDistributionStats returns the size-bucket histogram summed
// across every function's individual histogram, with empty buckets
// elided.
func (a *Aggregator) GetSizeDistributionStats() []Bucket {
	a.mu.Lock()
	var totals [bucketCount]uint64
	for _, fs := range a.functionStats {
		for i := range bucketBounds {
			totals[i] += fs.SizeHist.counts[i]
		}
	}
	a.mu.Unlock()

	out := make([]Bucket, 0, len(bucketBounds))
	for i, b := range bucketBounds {
		if totals[i] != 0 {
			out = append(out, Bucket{Lo: b.lo, Hi: b.hi, Count: totals[i]})
		}
	}
	return out
}
