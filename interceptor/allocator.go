// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package interceptor

// Allocator is the process-wide allocation facade the Interceptor
// hooks. It has the same shape as the memory.Allocator interface used
// throughout the Apache Arrow allocator family and
// 23skdu/longbow's TrackingAllocator: Allocate/Free/Reallocate over
// []byte, so that any wrapper can be composed transparently.
type Allocator interface {
	Allocate(size int) []byte
	Free(b []byte)
	Reallocate(size int, b []byte) []byte
}

// rawAllocator is the well-defined low-level primitive hooks fall
// back to before the next underlying implementation has been
// resolved. There is no allocator more fundamental than the Go
// runtime's own allocator to fall back to in a pure Go program, so
// rawAllocator calls straight into make/copy and never allocates
// through anything this package instruments.
type rawAllocator struct{}

func (rawAllocator) Allocate(size int) []byte {
	if size < 0 {
		return nil
	}
	return make([]byte, size)
}

func (rawAllocator) Free(b []byte) {
	// The Go runtime reclaims memory via GC; there is nothing to do
	// here beyond letting b become unreachable.
}

func (rawAllocator) Reallocate(size int, b []byte) []byte {
	if size < 0 {
		return nil
	}
	nb := make([]byte, size)
	n := size
	if len(b) < n {
		n = len(b)
	}
	copy(nb, b[:n])
	return nb
}

// DefaultAllocator is the fallback allocator installed until a caller
// supplies a different underlying implementation via Install.
var DefaultAllocator Allocator = rawAllocator{}
