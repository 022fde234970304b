package common

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/dargueta/blockfs"
	"github.com/tchajed/marshal"
)

// HeaderMagic identifies a block device image. It's the ASCII string "BFS1"
// stored little-endian.
const HeaderMagic uint64 = 0x31534642

// HeaderSize is the size of the encoded [Header], in bytes.
const HeaderSize = 7 * 8

// Header is the persistent description of a block device, stored at the very
// beginning of the image. It's followed by the allocation bitmap and then the
// blocks themselves.
type Header struct {
	Magic       uint64
	TotalBlocks uint64
	// BitmapBytes is the size of the allocation bitmap, in bytes.
	BitmapBytes uint64
	// BitmapBlocks is the number of blocks the bitmap would occupy. It's only
	// informational; the bitmap is not stored inside the block area.
	BitmapBlocks uint64
	FreeBlocks   uint64
	// FirstFreeBlock is the lowest free block, or [InvalidBlock] if the device
	// is full.
	FirstFreeBlock uint64
	BytesPerBlock  uint64
}

// NewHeader creates the header of an empty device with the given geometry.
func NewHeader(totalBlocks, bytesPerBlock uint) Header {
	bitmapBytes := ceilDiv(totalBlocks, 8)
	return Header{
		Magic:          HeaderMagic,
		TotalBlocks:    uint64(totalBlocks),
		BitmapBytes:    uint64(bitmapBytes),
		BitmapBlocks:   uint64(ceilDiv(bitmapBytes, bytesPerBlock)),
		FreeBlocks:     uint64(totalBlocks),
		FirstFreeBlock: 0,
		BytesPerBlock:  uint64(bytesPerBlock),
	}
}

// ImageSize gives the total size of an image with this header, in bytes. The
// header must be valid.
func (h *Header) ImageSize() int64 {
	size, _ := h.checkedImageSize()
	return int64(size)
}

// checkedImageSize computes the image size, returning false if it doesn't fit
// in an int64.
func (h *Header) checkedImageSize() (uint64, bool) {
	high, blockBytes := bits.Mul64(h.TotalBlocks, h.BytesPerBlock)
	if high != 0 {
		return 0, false
	}
	size, carry := bits.Add64(blockBytes, HeaderSize+h.BitmapBytes, 0)
	if carry != 0 || size > math.MaxInt64 {
		return 0, false
	}
	return size, true
}

// Encode serializes the header into exactly [HeaderSize] bytes.
func (h *Header) Encode() []byte {
	enc := marshal.NewEnc(HeaderSize)
	enc.PutInt(h.Magic)
	enc.PutInt(h.TotalBlocks)
	enc.PutInt(h.BitmapBytes)
	enc.PutInt(h.BitmapBlocks)
	enc.PutInt(h.FreeBlocks)
	enc.PutInt(h.FirstFreeBlock)
	enc.PutInt(h.BytesPerBlock)
	return enc.Finish()
}

// DecodeHeader deserializes a header and checks it for internal consistency.
// It doesn't check the header against the size of the image it came from.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		msg := fmt.Sprintf("header needs %d bytes, got %d", HeaderSize, len(data))
		return Header{}, blockfs.ErrFileSystemCorrupted.WithMessage(msg)
	}

	dec := marshal.NewDec(data[:HeaderSize])
	h := Header{
		Magic:          dec.GetInt(),
		TotalBlocks:    dec.GetInt(),
		BitmapBytes:    dec.GetInt(),
		BitmapBlocks:   dec.GetInt(),
		FreeBlocks:     dec.GetInt(),
		FirstFreeBlock: dec.GetInt(),
		BytesPerBlock:  dec.GetInt(),
	}
	return h, h.Validate()
}

// Validate returns an error if the header can't describe a valid image.
func (h *Header) Validate() error {
	corrupted := func(format string, args ...any) error {
		return blockfs.ErrFileSystemCorrupted.WithMessage(fmt.Sprintf(format, args...))
	}

	if h.Magic != HeaderMagic {
		return corrupted("bad magic number 0x%x, expected 0x%x", h.Magic, HeaderMagic)
	}
	if h.TotalBlocks == 0 || h.TotalBlocks > uint64(MaxTotalBlocks) {
		return corrupted("total blocks %d not in range [1, %d]", h.TotalBlocks, MaxTotalBlocks)
	}
	if h.BytesPerBlock < MinBytesPerBlock || h.BytesPerBlock > MaxBytesPerBlock {
		return corrupted(
			"block size %d not in range [%d, %d]",
			h.BytesPerBlock,
			MinBytesPerBlock,
			MaxBytesPerBlock)
	}
	if h.BitmapBytes != uint64(ceilDiv(uint(h.TotalBlocks), 8)) {
		return corrupted(
			"bitmap of %d bytes can't hold %d blocks", h.BitmapBytes, h.TotalBlocks)
	}
	if _, ok := h.checkedImageSize(); !ok {
		return corrupted(
			"image of %d blocks of %d bytes is too large", h.TotalBlocks, h.BytesPerBlock)
	}
	if h.FreeBlocks > h.TotalBlocks {
		return corrupted(
			"free block count %d exceeds total blocks %d", h.FreeBlocks, h.TotalBlocks)
	}
	if h.FirstFreeBlock >= h.TotalBlocks && h.FirstFreeBlock != uint64(InvalidBlock) {
		return corrupted("first free block %d is out of range", h.FirstFreeBlock)
	}
	return nil
}
