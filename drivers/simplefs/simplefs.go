package simplefs

import (
	"fmt"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/drivers/common"
	log "github.com/sirupsen/logrus"
)

// SimpleFS is a directory tree stored on a block device. All handles created
// from one SimpleFS share its device.
type SimpleFS struct {
	device   *common.BlockDevice
	geometry Geometry
	log      *log.Entry
}

func newSimpleFS(device *common.BlockDevice) *SimpleFS {
	return &SimpleFS{
		device:   device,
		geometry: NewGeometry(device.BytesPerBlock()),
		log:      log.WithField("component", "simplefs"),
	}
}

// Format erases everything on the device and writes an empty root directory
// to [RootBlock].
func Format(device *common.BlockDevice) error {
	fs := newSimpleFS(device)
	if err := device.ClearAllocations(); err != nil {
		return err
	}

	root := newFirstDirectoryRecord(fs.geometry, common.InvalidBlock, RootBlock, "/")
	if err := fs.writeRecord(RootBlock, root); err != nil {
		return err
	}
	fs.log.Debugf(
		"formatted %d blocks of %d bytes", device.TotalBlocks(), device.BytesPerBlock())
	return nil
}

// Mount opens the tree stored on `device`, formatting the device first if
// nothing has ever been written to it. It returns a handle to the root
// directory.
func Mount(device *common.BlockDevice) (*SimpleFS, *DirectoryHandle, error) {
	if !device.IsFormatted() {
		if err := Format(device); err != nil {
			return nil, nil, err
		}
	}

	fs := newSimpleFS(device)
	root, err := fs.readFirstDirectory(RootBlock)
	if err != nil {
		return nil, nil, err
	}
	if root.FCB.Parent != common.InvalidBlock {
		msg := fmt.Sprintf("root directory has parent %d", root.FCB.Parent)
		return nil, nil, blockfs.ErrFileSystemCorrupted.WithMessage(msg)
	}

	fs.log.Debugf("mounted: %d of %d blocks free", device.FreeBlocks(), device.TotalBlocks())
	return fs, &DirectoryHandle{fs: fs, block: RootBlock, record: root}, nil
}

// Device returns the block device the tree is stored on.
func (fs *SimpleFS) Device() *common.BlockDevice {
	return fs.device
}

func (fs *SimpleFS) Geometry() Geometry {
	return fs.geometry
}

func (fs *SimpleFS) readRecord(blockID common.BlockID, isDirectory bool) (Record, error) {
	buffer := make([]byte, fs.geometry.BytesPerBlock)
	if err := fs.device.ReadBlock(blockID, buffer); err != nil {
		return nil, err
	}
	return DecodeRecord(buffer, blockID, isDirectory, fs.geometry)
}

func (fs *SimpleFS) writeRecord(blockID common.BlockID, record Record) error {
	data, err := EncodeRecord(record, fs.geometry)
	if err != nil {
		return err
	}
	return fs.device.WriteBlock(blockID, data)
}

// readEntry reads the first record of a directory entry, whatever its kind.
func (fs *SimpleFS) readEntry(blockID common.BlockID) (Record, *FCB, error) {
	record, err := fs.readRecord(blockID, false)
	if err != nil {
		return nil, nil, err
	}
	fcb := fcbOf(record)
	if fcb == nil {
		msg := fmt.Sprintf(
			"block %d is record %d of a chain, not the start of one",
			blockID,
			record.Header().Position)
		return nil, nil, blockfs.ErrFileSystemCorrupted.WithMessage(msg)
	}
	return record, fcb, nil
}

func (fs *SimpleFS) readFirstDirectory(blockID common.BlockID) (*FirstDirectoryRecord, error) {
	record, fcb, err := fs.readEntry(blockID)
	if err != nil {
		return nil, err
	}
	first, ok := record.(*FirstDirectoryRecord)
	if !ok {
		msg := fmt.Sprintf("block %d: %q is not a directory", blockID, fcb.Name())
		return nil, blockfs.ErrFileSystemCorrupted.WithMessage(msg)
	}
	return first, nil
}

func (fs *SimpleFS) readFirstFile(blockID common.BlockID) (*FirstFileRecord, error) {
	record, fcb, err := fs.readEntry(blockID)
	if err != nil {
		return nil, err
	}
	first, ok := record.(*FirstFileRecord)
	if !ok {
		msg := fmt.Sprintf("block %d: %q is not a file", blockID, fcb.Name())
		return nil, blockfs.ErrFileSystemCorrupted.WithMessage(msg)
	}
	return first, nil
}

// walkChain calls `visit` on every record of the chain starting at `block`, in
// chain order, until it returns true or an error. `first` is the already-read
// first record. Continuation records are only read once the walk reaches them.
func (fs *SimpleFS) walkChain(
	block common.BlockID,
	first Record,
	isDirectory bool,
	visit func(common.BlockID, Record) (bool, error),
) error {
	current := first
	for position := uint32(0); ; position++ {
		if current.Header().Position != position {
			msg := fmt.Sprintf(
				"block %d is at position %d of its chain, expected %d",
				block,
				current.Header().Position,
				position)
			return blockfs.ErrFileSystemCorrupted.WithMessage(msg)
		}

		stop, err := visit(block, current)
		if stop || err != nil {
			return err
		}

		next := current.Header().Next
		if next == common.InvalidBlock {
			return nil
		}
		if uint(position)+1 >= fs.device.TotalBlocks() {
			msg := fmt.Sprintf("chain through block %d has a cycle", block)
			return blockfs.ErrFileSystemCorrupted.WithMessage(msg)
		}

		record, err := fs.readRecord(next, isDirectory)
		if err != nil {
			return err
		}
		if record.Header().Previous != block {
			msg := fmt.Sprintf(
				"block %d follows block %d but points back to block %d",
				next,
				block,
				record.Header().Previous)
			return blockfs.ErrFileSystemCorrupted.WithMessage(msg)
		}
		block = next
		current = record
	}
}

// loadChain reads every record of a chain.
func (fs *SimpleFS) loadChain(
	block common.BlockID, first Record, isDirectory bool,
) ([]common.BlockID, []Record, error) {
	var blocks []common.BlockID
	var records []Record
	err := fs.walkChain(
		block,
		first,
		isDirectory,
		func(blockID common.BlockID, record Record) (bool, error) {
			blocks = append(blocks, blockID)
			records = append(records, record)
			return false, nil
		},
	)
	return blocks, records, err
}

// freeChain releases every block of a chain, in chain order.
func (fs *SimpleFS) freeChain(block common.BlockID, first Record, isDirectory bool) error {
	blocks, _, err := fs.loadChain(block, first, isDirectory)
	if err != nil {
		return err
	}
	for _, blockID := range blocks {
		if err = fs.device.FreeBlock(blockID); err != nil {
			return err
		}
	}
	return nil
}

// allocateRecord picks a free block for a new record. The block must be
// written before anything else is allocated.
func (fs *SimpleFS) allocateRecord() (common.BlockID, error) {
	return fs.device.AllocateBlock(fs.device.FirstFreeBlock())
}

// reserve fails with [blockfs.ErrNoSpaceOnDevice] if fewer than `needed`
// blocks are free.
func (fs *SimpleFS) reserve(needed uint) error {
	if free := fs.device.FreeBlocks(); free < needed {
		msg := fmt.Sprintf("need %d free blocks, only %d available", needed, free)
		return blockfs.ErrNoSpaceOnDevice.WithMessage(msg)
	}
	return nil
}
