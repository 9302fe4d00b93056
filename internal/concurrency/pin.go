//go:build !windows && !linux
// +build !windows,!linux

// File: internal/concurrency/pin.go
// Author: momentics <momentics@gmail.com>
//
// No-op CPU/NUMA pinning for platforms other than Linux and Windows,
// which have their own files selected by build tag.

package concurrency

// PinCurrentThread pins the current OS thread to a given NUMA node and CPU core.
// This function is implemented per platform (Linux/Windows). On unsupported systems it is a no-op.
func PinCurrentThread(numaNode int, cpuID int) {}
