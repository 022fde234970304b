// Bitmap allocator

package common

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/blockfs"
)

// NoBit is returned by [BitMap.Find] when no bit has the requested value.
const NoBit = ^uint(0)

// BitMap is a packed bit vector where bit i lives in byte i/8 at bit position
// i%8, least significant bit first. A set bit means the block is allocated.
type BitMap struct {
	bits    bitmap.Bitmap
	NumBits uint
}

// NewBitMap creates a new bitmap with all bits cleared.
func NewBitMap(numBits uint) BitMap {
	return BitMap{
		bits:    bitmap.New(int(numBits)),
		NumBits: numBits,
	}
}

// WrapBitMap creates a bitmap on top of an existing buffer without copying it.
// Changes made through the bitmap are visible in `data` and vice versa.
func WrapBitMap(data []byte, numBits uint) (BitMap, error) {
	if uint(len(data)) < ceilDiv(numBits, 8) {
		msg := fmt.Sprintf(
			"%d bits need %d bytes, buffer has %d",
			numBits,
			ceilDiv(numBits, 8),
			len(data))
		return BitMap{}, blockfs.ErrInvalidArgument.WithMessage(msg)
	}
	return BitMap{bits: bitmap.Bitmap(data), NumBits: numBits}, nil
}

// EntryOf converts a bit index into the byte holding it and the bit's position
// within that byte.
func EntryOf(bitIndex uint) (byteOffset uint, bitOffset uint) {
	return bitIndex / 8, bitIndex % 8
}

// IndexOf is the inverse of [EntryOf].
func IndexOf(byteOffset, bitOffset uint) uint {
	return byteOffset*8 + bitOffset
}

func (m BitMap) checkBounds(pos uint) error {
	if pos >= m.NumBits {
		msg := fmt.Sprintf("bit %d not in range [0, %d)", pos, m.NumBits)
		return blockfs.ErrOutOfRange.WithMessage(msg)
	}
	return nil
}

// Get returns the value of the bit at `pos`.
func (m BitMap) Get(pos uint) (bool, error) {
	if err := m.checkBounds(pos); err != nil {
		return false, err
	}
	return m.bits.Get(int(pos)), nil
}

// Set changes the value of the bit at `pos` in place.
func (m BitMap) Set(pos uint, value bool) error {
	if err := m.checkBounds(pos); err != nil {
		return err
	}
	m.bits.Set(int(pos), value)
	return nil
}

// Find returns the lowest index at or after `start` whose bit equals `value`,
// or [NoBit] if there is none.
func (m BitMap) Find(start uint, value bool) uint {
	for i := start; i < m.NumBits; i++ {
		byteOffset, _ := EntryOf(i)

		// Skip whole bytes that can't contain a match. Only done on a byte
		// boundary so that the bits before `start` are never considered.
		if i%8 == 0 && i+8 <= m.NumBits {
			if (value && m.bits[byteOffset] == 0) || (!value && m.bits[byteOffset] == 0xff) {
				i += 7
				continue
			}
		}

		if m.bits.Get(int(i)) == value {
			return i
		}
	}
	return NoBit
}

// Count returns the number of bits equal to `value`.
func (m BitMap) Count(value bool) uint {
	total := uint(0)
	for i := uint(0); i < m.NumBits; i++ {
		if m.bits.Get(int(i)) == value {
			total++
		}
	}
	return total
}

// Reset clears every bit.
func (m BitMap) Reset() {
	size, _ := EntryOf(m.NumBits + 7)
	for i := uint(0); i < size; i++ {
		m.bits[i] = 0
	}
}

// Bytes returns the backing buffer.
func (m BitMap) Bytes() []byte {
	return m.bits
}
