//go:build linux && !cgo
// +build linux,!cgo

// File: affinity/affinity_linux_nocgo.go
// Author: momentics <momentics@gmail.com>
//
// Linux fallback for builds without CGO: the pthread-based affinity
// call is unavailable, so report unsupported rather than silently
// pretending the thread was pinned.

package affinity

import "errors"

// setAffinityPlatform reports unavailability on pure-Go Linux builds.
func setAffinityPlatform(cpuID int) error {
	return errors.New("affinity: requires cgo on linux")
}
