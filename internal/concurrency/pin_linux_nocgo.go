//go:build linux && !cgo
// +build linux,!cgo

// File: internal/concurrency/pin_linux_nocgo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation of PinCurrentThread for Linux when CGO is
// disabled. The CGO-based version (pin_linux.go) uses
// pthread_setaffinity_np / libnuma; without CGO that file is excluded
// from the build, so this no-op keeps pure-Go builds compiling. The
// thread is still locked so callers keep their goroutine-to-thread
// pinning guarantee even when the CPU mask cannot be set.

package concurrency

import "runtime"

// PinCurrentThread no-op stub for Linux without CGO.
func PinCurrentThread(numaNode int, cpuID int) {
	runtime.LockOSThread()
}
