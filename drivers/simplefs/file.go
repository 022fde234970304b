package simplefs

import (
	"fmt"
	"math"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/drivers/common"
)

// FileHandle is an open file with a byte cursor. Reads start at the cursor but
// don't move it; writes do.
type FileHandle struct {
	fs       *SimpleFS
	block    common.BlockID
	record   *FirstFileRecord
	position int
	closed   bool
}

func (file *FileHandle) Name() string {
	if file.record == nil {
		return ""
	}
	return file.record.FCB.Name()
}

// Block returns the block holding the file's first record.
func (file *FileHandle) Block() common.BlockID {
	return file.block
}

// Size returns the size of the file in bytes, as of the last operation on this
// handle.
func (file *FileHandle) Size() int {
	if file.record == nil {
		return 0
	}
	return int(file.record.FCB.SizeInBytes)
}

// Blocks returns the number of records in the file's chain, as of the last
// operation on this handle.
func (file *FileHandle) Blocks() int {
	if file.record == nil {
		return 0
	}
	return int(file.record.FCB.SizeInBlocks)
}

func (file *FileHandle) Position() int {
	return file.position
}

func (file *FileHandle) checkOpen() error {
	if file.closed {
		return blockfs.ErrFileDescriptorBadState.WithMessage("file handle is closed")
	}
	return nil
}

// refresh re-reads the first record so that changes made through other
// handles are visible.
func (file *FileHandle) refresh() error {
	if err := file.checkOpen(); err != nil {
		return err
	}
	record, err := file.fs.readFirstFile(file.block)
	if err != nil {
		return err
	}
	file.record = record
	return nil
}

// Close invalidates the handle. Every later call on it fails.
func (file *FileHandle) Close() error {
	if err := file.checkOpen(); err != nil {
		return err
	}
	file.closed = true
	file.record = nil
	return nil
}

// recordsNeeded returns the length of the chain needed to hold `size` bytes.
func (g Geometry) recordsNeeded(size uint) uint {
	if size <= g.FirstFilePayload {
		return 1
	}
	return 1 + (size-g.FirstFilePayload+g.FilePayload-1)/g.FilePayload
}

// Write writes `data` at the cursor, growing the file's chain as needed, and
// moves the cursor past the written data. If the device doesn't have enough
// free blocks for the chain to grow, nothing is written.
func (file *FileHandle) Write(data []byte) (int, error) {
	if err := file.refresh(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, blockfs.ErrInvalidArgument.WithMessage("nothing to write")
	}

	end := uint(file.position) + uint(len(data))
	if end > math.MaxUint32 {
		msg := fmt.Sprintf("file can't grow to %d bytes", end)
		return 0, blockfs.ErrInvalidArgument.WithMessage(msg)
	}

	g := file.fs.geometry
	blocks, records, err := file.fs.loadChain(file.block, file.record, false)
	if err != nil {
		return 0, err
	}
	if needed := g.recordsNeeded(end); needed > uint(len(records)) {
		if err = file.fs.reserve(needed - uint(len(records))); err != nil {
			return 0, err
		}
	}

	written := 0
	recordStart := uint(0)
	for i := 0; written < len(data); i++ {
		isNew := i == len(records)
		if isNew {
			blockID, err := file.fs.allocateRecord()
			if err != nil {
				return written, err
			}
			blocks = append(blocks, blockID)
			records = append(records, newContinuation(g, records[i-1], blocks[i-1]))
		}

		capacity := g.PayloadCapacity(uint32(i))
		cursor := uint(file.position + written)
		if cursor < recordStart+capacity {
			n := copy(payloadOf(records[i])[cursor-recordStart:], data[written:])
			written += n
			if i > 0 {
				if err = file.fs.writeRecord(blocks[i], records[i]); err != nil {
					return written, err
				}
			}
		}

		if isNew {
			records[i-1].Header().Next = blocks[i]
			if i-1 > 0 {
				if err = file.fs.writeRecord(blocks[i-1], records[i-1]); err != nil {
					return written, err
				}
			}
		}
		recordStart += capacity
	}

	fcb := &file.record.FCB
	fcb.SizeInBytes = uint32(max(uint(fcb.SizeInBytes), end))
	fcb.SizeInBlocks = uint32(len(records))
	file.position += written
	if err = file.fs.writeRecord(file.block, file.record); err != nil {
		return written, err
	}

	file.fs.log.Debugf(
		"wrote %d bytes to %q; size %d bytes in %d blocks",
		written,
		fcb.Name(),
		fcb.SizeInBytes,
		fcb.SizeInBlocks)
	return written, nil
}

// Read copies data starting at the cursor into `buffer`, stopping at the end
// of the file. It returns the number of bytes copied, which is less than
// len(buffer) only at the end of the file. The cursor doesn't move.
func (file *FileHandle) Read(buffer []byte) (int, error) {
	if err := file.refresh(); err != nil {
		return 0, err
	}

	size := int(file.record.FCB.SizeInBytes)
	if file.position >= size || len(buffer) == 0 {
		return 0, nil
	}
	limit := min(len(buffer), size-file.position)

	g := file.fs.geometry
	copied := 0
	recordStart := 0
	err := file.fs.walkChain(
		file.block,
		file.record,
		false,
		func(_ common.BlockID, record Record) (bool, error) {
			capacity := int(g.PayloadCapacity(record.Header().Position))
			cursor := file.position + copied
			if cursor < recordStart+capacity {
				copied += copy(buffer[copied:limit], payloadOf(record)[cursor-recordStart:])
			}
			recordStart += capacity
			return copied >= limit, nil
		},
	)
	if err != nil {
		return copied, err
	}
	if copied < limit {
		msg := fmt.Sprintf(
			"%q claims %d bytes but its chain ends after %d",
			file.Name(),
			size,
			file.position+copied)
		return copied, blockfs.ErrFileSystemCorrupted.WithMessage(msg)
	}
	return copied, nil
}

// Seek moves the cursor to `position`, which may be anywhere from the
// beginning of the file up to and including its end. The bound is the file's
// size, not the capacity of its chain; the chain is only walked to check that
// it's as long as the FCB claims.
func (file *FileHandle) Seek(position int) (int, error) {
	if err := file.refresh(); err != nil {
		return file.position, err
	}
	if position < 0 {
		return file.position, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative position %d", position))
	}

	_, records, err := file.fs.loadChain(file.block, file.record, false)
	if err != nil {
		return file.position, err
	}
	fcb := &file.record.FCB
	if uint32(len(records)) < fcb.SizeInBlocks {
		msg := fmt.Sprintf(
			"%q claims %d blocks but its chain has %d",
			fcb.Name(),
			fcb.SizeInBlocks,
			len(records))
		return file.position, blockfs.ErrFileSystemCorrupted.WithMessage(msg)
	}
	if position > int(fcb.SizeInBytes) {
		msg := fmt.Sprintf(
			"can't seek to %d in %q; it's %d bytes long",
			position,
			fcb.Name(),
			fcb.SizeInBytes)
		return file.position, blockfs.ErrOutOfRange.WithMessage(msg)
	}

	file.position = position
	return position, nil
}
