// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build cgo && memtrace_cgowrap

package interceptor

/*
#include <stdlib.h>
#include <string.h>

// __wrap_malloc/__wrap_free/__wrap_realloc are resolved in place of
// malloc/free/realloc by the linker's --wrap flag. __real_malloc and
// friends are the symbols --wrap renames the original definitions to,
// the raw fallback this module falls back to before go_capture_enabled
// is ever set — the literal realization of the bootstrap hazard in
// the symbol-resolution paragraph of this package's contract.
//
// This file is only compiled with the memtrace_cgowrap build tag.
// Building with it requires:
//   CGO_LDFLAGS_ALLOW='-Wl,--wrap=.*' \
//   CGO_LDFLAGS='-Wl,--wrap=malloc,--wrap=free,--wrap=realloc' \
//   go build -tags memtrace_cgowrap ./...
// grounded directly on the DataDog cmemprof technique for wrapping
// the C allocator process-wide.

extern void *__real_malloc(size_t size);
extern void __real_free(void *ptr);
extern void *__real_realloc(void *ptr, size_t size);

extern void goCgoOnAllocate(void *addr, size_t size);
extern void goCgoOnFree(void *addr);

static int go_capture_enabled = 0;

void goCgoSetCapturing(int on) {
	go_capture_enabled = on;
}

void *__wrap_malloc(size_t size) {
	void *p = __real_malloc(size);
	if (p != NULL && go_capture_enabled) {
		goCgoOnAllocate(p, size);
	}
	return p;
}

void __wrap_free(void *ptr) {
	if (ptr != NULL && go_capture_enabled) {
		goCgoOnFree(ptr);
	}
	__real_free(ptr);
}

void *__wrap_realloc(void *ptr, size_t size) {
	if (ptr != NULL && go_capture_enabled) {
		goCgoOnFree(ptr);
	}
	void *p = __real_realloc(ptr, size);
	if (p != NULL && go_capture_enabled) {
		goCgoOnAllocate(p, size);
	}
	return p;
}
*/
import "C"

import (
	"unsafe"
)

// cgoSink is the single process-wide Sink the wrapped C symbols
// report to. There is exactly one process-wide cgo allocator per
// program, so unlike Interceptor (which supports multiple
// independent instances over the Go-level Allocator facade), this
// side is a package-level singleton by necessity.
var cgoSink Sink

// EnableCgoCapture routes the process-wide wrapped malloc/free/
// realloc symbols to sink. It exists only when this file is built
// (cgo enabled, the memtrace_cgowrap build tag, and the linker --wrap
// flags described above).
func EnableCgoCapture(sink Sink) {
	cgoSink = sink
	C.goCgoSetCapturing(C.int(1))
}

// DisableCgoCapture stops routing wrapped-allocator events.
func DisableCgoCapture() {
	C.goCgoSetCapturing(C.int(0))
	cgoSink = nil
}

//export goCgoOnAllocate
func goCgoOnAllocate(addr unsafe.Pointer, size C.size_t) {
	if cgoSink == nil {
		return
	}
	cgoSink.OnAllocate(uint64(uintptr(addr)), uint64(size), "malloc", 0, KindAllocate)
}

//export goCgoOnFree
func goCgoOnFree(addr unsafe.Pointer) {
	if cgoSink == nil {
		return
	}
	cgoSink.OnFree(uint64(uintptr(addr)), 0)
}
