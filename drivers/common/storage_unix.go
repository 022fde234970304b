//go:build unix

package common

import (
	"errors"
	"fmt"
	"os"

	"github.com/dargueta/blockfs"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// mappedFile is an image file mapped into memory. Sync flushes the mapping with
// msync(2), so every byte written to Data() reaches the file.
type mappedFile struct {
	file *os.File
	lock *flock.Flock
	data []byte
}

// openMappedFile maps the image at `path`, creating it with a size of
// `sizeIfCreated` bytes if it doesn't exist. The second return value is true if
// the file was created. The image is locked for exclusive use until Close is
// called.
func openMappedFile(path string, sizeIfCreated int64) (*mappedFile, bool, error) {
	_, err := os.Stat(path)
	created := errors.Is(err, os.ErrNotExist)
	if err != nil && !created {
		return nil, false, blockfs.ErrIOFailed.Wrap(err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, false, blockfs.ErrIOFailed.Wrap(err)
	}
	if !locked {
		msg := fmt.Sprintf("image %q is in use by another process", path)
		return nil, false, blockfs.ErrBusy.WithMessage(msg)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		lock.Unlock()
		return nil, false, blockfs.ErrIOFailed.Wrap(err)
	}

	fail := func(err error) (*mappedFile, bool, error) {
		file.Close()
		lock.Unlock()
		if created {
			os.Remove(path)
		}
		return nil, false, err
	}

	size := sizeIfCreated
	if created {
		if err = reserveSpace(file, size); err != nil {
			return fail(blockfs.ErrIOFailed.Wrap(err))
		}
	} else {
		info, err := file.Stat()
		if err != nil {
			return fail(blockfs.ErrIOFailed.Wrap(err))
		}
		size = info.Size()
		if size < HeaderSize {
			msg := fmt.Sprintf("image %q is only %d bytes", path, size)
			return fail(blockfs.ErrFileSystemCorrupted.WithMessage(msg))
		}
	}

	data, err := unix.Mmap(
		int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail(blockfs.ErrIOFailed.Wrap(err))
	}

	return &mappedFile{file: file, lock: lock, data: data}, created, nil
}

func (m *mappedFile) Data() []byte {
	return m.data
}

func (m *mappedFile) Sync() error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *mappedFile) Close() error {
	var result *multierror.Error

	if err := unix.Munmap(m.data); err != nil {
		result = multierror.Append(result, err)
	}
	m.data = nil

	if err := m.file.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := m.lock.Unlock(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
