// Package common contains the block-level building blocks shared by file system
// drivers: the allocation bitmap, the on-disk header, and the block device that
// owns both.
package common

import "math"

// BlockID is the index of a block on a [BlockDevice]. Block 0 is the first
// block after the bitmap region.
type BlockID uint32

// InvalidBlock marks the absence of a block, e.g. the end of a chain or the
// parent of the root directory.
const InvalidBlock = BlockID(math.MaxUint32)

// MaxTotalBlocks is the largest number of blocks a device may hold. The last
// representable index is reserved for [InvalidBlock].
const MaxTotalBlocks = uint(math.MaxUint32)

const DefaultBytesPerBlock = 512

// MinBytesPerBlock is the smallest block size the directory tree can use: it's
// the size of the first record of a directory holding a single entry.
const MinBytesPerBlock = 64

// MaxBytesPerBlock is the largest block size a device may use.
const MaxBytesPerBlock = 1 << 20

// Truncator is an interface for objects that support a Truncate() method. This
// method must behave just like [os.File.Truncate].
type Truncator interface {
	Truncate(size int64) error
}

func ceilDiv(n, d uint) uint {
	return (n + d - 1) / d
}
