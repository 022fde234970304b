package common_test

import (
	"testing"

	"github.com/dargueta/blockfs"
	c "github.com/dargueta/blockfs/drivers/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeader(t *testing.T) {
	header := c.NewHeader(15, 64)

	assert.Equal(t, c.HeaderMagic, header.Magic)
	assert.EqualValues(t, 15, header.TotalBlocks)
	assert.EqualValues(t, 2, header.BitmapBytes)
	assert.EqualValues(t, 1, header.BitmapBlocks)
	assert.EqualValues(t, 15, header.FreeBlocks)
	assert.EqualValues(t, 0, header.FirstFreeBlock)
	assert.EqualValues(t, 64, header.BytesPerBlock)
	assert.EqualValues(t, c.HeaderSize+2+15*64, header.ImageSize())
	assert.NoError(t, header.Validate())
}

func TestHeader__EncodeDecode(t *testing.T) {
	header := c.NewHeader(1000, 512)
	header.FreeBlocks = 998
	header.FirstFreeBlock = 2

	encoded := header.Encode()
	require.Len(t, encoded, c.HeaderSize)

	decoded, err := c.DecodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, header, decoded)
}

func TestDecodeHeader__Corrupted(t *testing.T) {
	valid := c.NewHeader(64, 128)

	testCases := []struct {
		name   string
		mutate func(h *c.Header)
	}{
		{"bad magic", func(h *c.Header) { h.Magic = 0xdeadbeef }},
		{"no blocks", func(h *c.Header) { h.TotalBlocks = 0 }},
		{"tiny blocks", func(h *c.Header) { h.BytesPerBlock = 16 }},
		{"huge blocks", func(h *c.Header) { h.BytesPerBlock = c.MaxBytesPerBlock + 1 }},
		{"size overflows", func(h *c.Header) { h.BytesPerBlock = 1 << 62 }},
		{"short bitmap", func(h *c.Header) { h.BitmapBytes = 1 }},
		{"too many free", func(h *c.Header) { h.FreeBlocks = 65 }},
		{"hint past end", func(h *c.Header) { h.FirstFreeBlock = 64 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			header := valid
			tc.mutate(&header)
			_, err := c.DecodeHeader(header.Encode())
			assert.ErrorIs(t, err, blockfs.ErrFileSystemCorrupted)
		})
	}

	_, err := c.DecodeHeader(make([]byte, c.HeaderSize-1))
	assert.ErrorIs(t, err, blockfs.ErrFileSystemCorrupted)
}

func TestHeader__FullDeviceHintIsValid(t *testing.T) {
	header := c.NewHeader(8, 64)
	header.FreeBlocks = 0
	header.FirstFreeBlock = uint64(c.InvalidBlock)
	assert.NoError(t, header.Validate())
}
