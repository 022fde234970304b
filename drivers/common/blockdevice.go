package common

import (
	"fmt"
	"io"

	"github.com/dargueta/blockfs"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// BlockDevice presents an image as an array of fixed-size blocks with a
// persistent allocation bitmap. The image is laid out as
//
//	[Header][Bitmap][Block 0][Block 1]...[Block TotalBlocks-1]
//
// Every mutating call writes its changes through to durable storage before it
// returns. A BlockDevice must not be used by more than one goroutine at a time.
type BlockDevice struct {
	header Header
	bitmap BitMap
	blocks []byte
	store  imageStore
	log    *log.Entry
}

// OpenFile opens the device image at `path`, creating it if it doesn't exist.
//
// If the image already exists, its persisted geometry is used and `totalBlocks`
// and `bytesPerBlock` are ignored. Otherwise a new image is created with every
// block free. The image is memory mapped and locked against use by other
// processes until [BlockDevice.Close] is called.
func OpenFile(path string, totalBlocks, bytesPerBlock uint) (*BlockDevice, error) {
	fresh, err := newValidatedHeader(totalBlocks, bytesPerBlock)
	if err != nil {
		return nil, err
	}

	store, created, err := openMappedFile(path, fresh.ImageSize())
	if err != nil {
		return nil, err
	}
	return newBlockDevice(store, created, fresh, log.WithField("image", path))
}

// OpenStream is like [OpenFile] but keeps the image in memory and writes it
// back to `stream` on every flush. An existing image is recognized by the magic
// number at the beginning of the stream.
func OpenStream(
	stream io.ReadWriteSeeker, totalBlocks, bytesPerBlock uint,
) (*BlockDevice, error) {
	fresh, err := newValidatedHeader(totalBlocks, bytesPerBlock)
	if err != nil {
		return nil, err
	}

	store, created, err := openStreamStore(stream, fresh.ImageSize())
	if err != nil {
		return nil, err
	}
	return newBlockDevice(store, created, fresh, log.WithField("image", "<stream>"))
}

func newValidatedHeader(totalBlocks, bytesPerBlock uint) (Header, error) {
	if totalBlocks == 0 || totalBlocks > MaxTotalBlocks {
		msg := fmt.Sprintf(
			"total blocks must be in [1, %d], got %d", MaxTotalBlocks, totalBlocks)
		return Header{}, blockfs.ErrInvalidArgument.WithMessage(msg)
	}
	if bytesPerBlock < MinBytesPerBlock || bytesPerBlock > MaxBytesPerBlock {
		msg := fmt.Sprintf(
			"block size must be in [%d, %d] bytes, got %d",
			MinBytesPerBlock,
			MaxBytesPerBlock,
			bytesPerBlock)
		return Header{}, blockfs.ErrInvalidArgument.WithMessage(msg)
	}

	header := NewHeader(totalBlocks, bytesPerBlock)
	if _, ok := header.checkedImageSize(); !ok {
		msg := fmt.Sprintf(
			"%d blocks of %d bytes is too large for an image", totalBlocks, bytesPerBlock)
		return Header{}, blockfs.ErrInvalidArgument.WithMessage(msg)
	}
	return header, nil
}

func newBlockDevice(
	store imageStore, created bool, fresh Header, logger *log.Entry,
) (*BlockDevice, error) {
	data := store.Data()
	header := fresh

	if !created {
		var err error
		header, err = DecodeHeader(data)
		if err != nil {
			store.Close()
			return nil, err
		}
		if int64(len(data)) < header.ImageSize() {
			store.Close()
			msg := fmt.Sprintf(
				"image is %d bytes but its header describes %d",
				len(data),
				header.ImageSize())
			return nil, blockfs.ErrFileSystemCorrupted.WithMessage(msg)
		}
	}

	bitmapEnd := HeaderSize + header.BitmapBytes
	bitmap, err := WrapBitMap(data[HeaderSize:bitmapEnd], uint(header.TotalBlocks))
	if err != nil {
		store.Close()
		return nil, err
	}

	device := &BlockDevice{
		header: header,
		bitmap: bitmap,
		blocks: data[bitmapEnd:header.ImageSize()],
		store:  store,
		log:    logger,
	}

	if created {
		bitmap.Reset()
		device.log.Debugf(
			"created image: %d blocks of %d bytes", header.TotalBlocks, header.BytesPerBlock)
		if err = device.Flush(); err != nil {
			store.Close()
			return nil, err
		}
		return device, nil
	}

	if free := bitmap.Count(false); uint64(free) != header.FreeBlocks {
		device.log.Warnf(
			"header claims %d free blocks but the bitmap has %d",
			header.FreeBlocks,
			free)
	}
	device.log.Debugf(
		"opened image: %d blocks of %d bytes, %d free",
		header.TotalBlocks,
		header.BytesPerBlock,
		header.FreeBlocks)
	return device, nil
}

// Header returns a copy of the device's current header.
func (device *BlockDevice) Header() Header {
	return device.header
}

// BytesPerBlock returns the size of a single block, in bytes.
func (device *BlockDevice) BytesPerBlock() uint {
	return uint(device.header.BytesPerBlock)
}

// TotalBlocks returns the number of blocks on the device, free or not.
func (device *BlockDevice) TotalBlocks() uint {
	return uint(device.header.TotalBlocks)
}

// FreeBlocks returns the number of blocks not currently allocated.
func (device *BlockDevice) FreeBlocks() uint {
	return uint(device.header.FreeBlocks)
}

// FirstFreeBlock returns the lowest free block, or [InvalidBlock] if the device
// is full.
func (device *BlockDevice) FirstFreeBlock() BlockID {
	return BlockID(device.header.FirstFreeBlock)
}

// IsFormatted reports whether a file system has ever been written to the
// device. A new device has its free block hint on block 0, which is reserved
// for the file system's root; the hint only moves once that block is written.
func (device *BlockDevice) IsFormatted() bool {
	return device.header.FirstFreeBlock != 0
}

func (device *BlockDevice) checkOpen() error {
	if device.store == nil {
		return blockfs.ErrFileDescriptorBadState.WithMessage("device is closed")
	}
	return nil
}

func (device *BlockDevice) checkBlockID(blockID BlockID) error {
	if err := device.checkOpen(); err != nil {
		return err
	}
	if uint64(blockID) >= device.header.TotalBlocks {
		msg := fmt.Sprintf(
			"invalid block ID %d: not in range [0, %d)",
			blockID,
			device.header.TotalBlocks)
		return blockfs.ErrOutOfRange.WithMessage(msg)
	}
	return nil
}

// blockRegion returns the slice of the image holding the given block. The
// block ID must already have been checked.
func (device *BlockDevice) blockRegion(blockID BlockID) []byte {
	start := uint64(blockID) * device.header.BytesPerBlock
	return device.blocks[start : start+device.header.BytesPerBlock]
}

// IsAllocated reports whether the bitmap marks the block as in use.
func (device *BlockDevice) IsAllocated(blockID BlockID) (bool, error) {
	if err := device.checkBlockID(blockID); err != nil {
		return false, err
	}
	return device.bitmap.Get(uint(blockID))
}

// ReadBlock copies exactly one block into `buffer`, which must be at least
// BytesPerBlock() bytes long. Reading a free block is an error.
func (device *BlockDevice) ReadBlock(blockID BlockID, buffer []byte) error {
	if err := device.checkBlockID(blockID); err != nil {
		return err
	}
	if uint64(len(buffer)) < device.header.BytesPerBlock {
		msg := fmt.Sprintf(
			"buffer of %d bytes can't hold a %d-byte block",
			len(buffer),
			device.header.BytesPerBlock)
		return blockfs.ErrInvalidArgument.WithMessage(msg)
	}

	allocated, err := device.bitmap.Get(uint(blockID))
	if err != nil {
		return err
	}
	if !allocated {
		return blockfs.ErrNotAllocated.WithMessage(fmt.Sprintf("block %d is free", blockID))
	}

	copy(buffer, device.blockRegion(blockID))
	return nil
}

// WriteBlock writes `data` to a block, padding it with nulls to the full block
// size, and marks the block as allocated. Writing to an allocated block
// overwrites it.
func (device *BlockDevice) WriteBlock(blockID BlockID, data []byte) error {
	if err := device.checkBlockID(blockID); err != nil {
		return err
	}
	if uint64(len(data)) > device.header.BytesPerBlock {
		msg := fmt.Sprintf(
			"can't write %d bytes to block %d; blocks are %d bytes",
			len(data),
			blockID,
			device.header.BytesPerBlock)
		return blockfs.ErrPayloadTooLarge.WithMessage(msg)
	}

	allocated, err := device.bitmap.Get(uint(blockID))
	if err != nil {
		return err
	}
	if !allocated {
		device.bitmap.Set(uint(blockID), true)
		device.header.FreeBlocks--
	}

	region := device.blockRegion(blockID)
	n := copy(region, data)
	clear(region[n:])

	device.updateFirstFreeBlock()
	return device.Flush()
}

// FreeBlock marks a block as free. Freeing a block that is already free does
// nothing. The block's contents are left as they are.
func (device *BlockDevice) FreeBlock(blockID BlockID) error {
	if err := device.checkBlockID(blockID); err != nil {
		return err
	}

	allocated, err := device.bitmap.Get(uint(blockID))
	if err != nil {
		return err
	}
	if allocated {
		device.bitmap.Set(uint(blockID), false)
		device.header.FreeBlocks++
		device.log.WithField("block", blockID).Debug("freed block")
	}

	if uint64(blockID) < device.header.FirstFreeBlock {
		device.header.FirstFreeBlock = uint64(blockID)
	}
	return device.Flush()
}

// AllocateBlock returns the lowest free block at or after `startHint`. The
// block isn't reserved: it becomes allocated once it's written with
// [BlockDevice.WriteBlock], so callers must write it before allocating again.
func (device *BlockDevice) AllocateBlock(startHint BlockID) (BlockID, error) {
	if err := device.checkOpen(); err != nil {
		return InvalidBlock, err
	}
	if device.header.FreeBlocks == 0 {
		return InvalidBlock, blockfs.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf("all %d blocks are in use", device.header.TotalBlocks))
	}

	index := device.bitmap.Find(uint(startHint), false)
	if index == NoBit {
		msg := fmt.Sprintf("no free blocks at or after block %d", startHint)
		return InvalidBlock, blockfs.ErrNoSpaceOnDevice.WithMessage(msg)
	}

	device.log.Debugf("allocating block %d (hint %d)", index, startHint)
	return BlockID(index), nil
}

// ClearAllocations marks every block on the device as free.
func (device *BlockDevice) ClearAllocations() error {
	if err := device.checkOpen(); err != nil {
		return err
	}

	device.bitmap.Reset()
	device.header.FreeBlocks = device.header.TotalBlocks
	device.header.FirstFreeBlock = 0
	device.log.Debug("cleared allocation bitmap")
	return device.Flush()
}

func (device *BlockDevice) updateFirstFreeBlock() {
	index := device.bitmap.Find(0, false)
	if index == NoBit {
		device.header.FirstFreeBlock = uint64(InvalidBlock)
	} else {
		device.header.FirstFreeBlock = uint64(index)
	}
}

// Flush writes the header, bitmap, and all blocks to durable storage.
func (device *BlockDevice) Flush() error {
	if err := device.checkOpen(); err != nil {
		return err
	}

	copy(device.store.Data()[:HeaderSize], device.header.Encode())
	if err := device.store.Sync(); err != nil {
		device.log.Errorf("flush failed: %s", err)
		return blockfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Close flushes all changes and releases the image. The device must not be used
// afterwards.
func (device *BlockDevice) Close() error {
	if err := device.checkOpen(); err != nil {
		return err
	}

	var result *multierror.Error
	if err := device.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := device.store.Close(); err != nil {
		result = multierror.Append(result, blockfs.ErrIOFailed.Wrap(err))
	}

	device.store = nil
	device.blocks = nil
	device.bitmap = BitMap{}
	device.log.Debug("closed image")
	return result.ErrorOrNil()
}
