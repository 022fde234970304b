//go:build unix && !linux

package common

import "os"

func reserveSpace(file *os.File, size int64) error {
	return file.Truncate(size)
}
