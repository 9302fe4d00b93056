// File: renderctx/helpers_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package renderctx

import (
	"testing"

	"golang.org/x/sys/unix"
)

// memfdForTest returns a real, closeable memfd standing in for a
// guest-supplied fd, so import/dup tests exercise genuine fd lifetimes
// rather than a fabricated integer.
func memfdForTest(t *testing.T, name string) (int, error) {
	t.Helper()
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, 4096); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func closeFdForTest(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}
