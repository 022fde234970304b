//go:build linux

package common

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// reserveSpace allocates disk space for the whole image up front so that writes
// through the mapping can't fail with SIGBUS. File systems that don't support
// fallocate(2) get a sparse file instead.
func reserveSpace(file *os.File, size int64) error {
	err := unix.Fallocate(int(file.Fd()), 0, 0, size)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return file.Truncate(size)
	}
	return err
}
