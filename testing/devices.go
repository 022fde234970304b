// Package testing provides fixtures shared by the package tests: block devices
// backed by temporary files or in-memory streams, and random payloads.
package testing

import (
	"crypto/rand"
	"io"
	"path/filepath"
	"testing"

	"github.com/dargueta/blockfs/drivers/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// unclosableStream hides any Close method of the wrapped stream so that a
// device can be closed and reopened on the same stream.
type unclosableStream struct {
	io.ReadWriteSeeker
}

// CreateRandomData returns `size` random bytes. It's guaranteed to either
// return a valid slice or fail the test and abort.
func CreateRandomData(t *testing.T, size uint) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoErrorf(t, err, "failed to generate %d random bytes", size)
	return data
}

// CreateStreamDevice creates a new, empty block device held entirely in memory.
// The returned stream can be passed to [ReopenStreamDevice] after the device is
// closed.
func CreateStreamDevice(
	t *testing.T, totalBlocks, bytesPerBlock uint,
) (*common.BlockDevice, io.ReadWriteSeeker) {
	header := common.NewHeader(totalBlocks, bytesPerBlock)
	backingData := make([]byte, header.ImageSize())
	stream := unclosableStream{bytesextra.NewReadWriteSeeker(backingData)}

	device, err := common.OpenStream(stream, totalBlocks, bytesPerBlock)
	require.NoErrorf(
		t,
		err,
		"failed to create in-memory device with %d blocks of %d bytes",
		totalBlocks,
		bytesPerBlock)
	checkGeometry(t, device, totalBlocks, bytesPerBlock)
	t.Cleanup(func() { device.Close() })
	return device, stream
}

// ReopenStreamDevice opens a device previously created on `stream`.
func ReopenStreamDevice(t *testing.T, stream io.ReadWriteSeeker) *common.BlockDevice {
	device, err := common.OpenStream(stream, 1, common.MinBytesPerBlock)
	require.NoError(t, err, "failed to reopen in-memory device")
	t.Cleanup(func() { device.Close() })
	return device
}

// CreateFileDevice creates a new, empty block device backed by a memory-mapped
// file in a temporary directory. The path to the image is returned so that it
// can be reopened with [common.OpenFile] after the device is closed.
func CreateFileDevice(
	t *testing.T, totalBlocks, bytesPerBlock uint,
) (*common.BlockDevice, string) {
	path := filepath.Join(t.TempDir(), "image.bfs")

	device, err := common.OpenFile(path, totalBlocks, bytesPerBlock)
	require.NoErrorf(
		t,
		err,
		"failed to create image %q with %d blocks of %d bytes",
		path,
		totalBlocks,
		bytesPerBlock)
	checkGeometry(t, device, totalBlocks, bytesPerBlock)
	t.Cleanup(func() { device.Close() })
	return device, path
}

func checkGeometry(
	t *testing.T, device *common.BlockDevice, totalBlocks, bytesPerBlock uint,
) {
	assert.EqualValues(t, bytesPerBlock, device.BytesPerBlock(), "wrong bytes per block")
	assert.EqualValues(t, totalBlocks, device.TotalBlocks(), "wrong total blocks")
	assert.EqualValues(t, totalBlocks, device.FreeBlocks(), "new device must be empty")
	assert.False(t, device.IsFormatted(), "new device must not be formatted")
}
