// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ticks

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// coreUnavailable latches once getcpu fails (seccomp filters, ENOSYS
// under some emulators). After that every reading reports core 0.
var coreUnavailable atomic.Bool

// currentCore returns the CPU the calling thread is executing on. The
// answer can be stale by the time the caller uses it: the goroutine may
// migrate immediately afterwards. That is acceptable for attributing an
// event to a core.
func currentCore() uint32 {
	if coreUnavailable.Load() {
		return 0
	}
	var cpu uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), 0, 0)
	if errno != 0 {
		coreUnavailable.Store(true)
		return 0
	}
	return cpu
}
