package simplefs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/drivers/common"
	"github.com/noxer/bytewriter"
)

const RecordHeaderSize = 12
const FCBSize = 44
const MaxNameLength = 24

// RootBlock is the block holding the root directory's first record.
const RootBlock = common.BlockID(0)

// emptySlot marks an unused child slot in a directory record.
const emptySlot = common.BlockID(0)

const firstFileOverhead = RecordHeaderSize + FCBSize
const firstDirectoryOverhead = RecordHeaderSize + FCBSize + 4

// RecordHeader is the first field of every record in a chain.
type RecordHeader struct {
	Previous common.BlockID
	Next     common.BlockID
	// Position is the 0-based index of the record in its chain.
	Position uint32
}

// FCB describes a file or directory. It's stored in the first record of the
// entry's chain.
type FCB struct {
	// Parent is the first block of the directory containing this entry, or
	// [common.InvalidBlock] for the root.
	Parent common.BlockID
	// Self is the block this FCB is stored in.
	Self         common.BlockID
	RawName      [MaxNameLength]byte
	SizeInBytes  uint32
	SizeInBlocks uint32
	IsDirectory  uint8
	Reserved     [3]byte
}

// Name returns the entry's name with the null padding removed.
func (fcb *FCB) Name() string {
	return string(bytes.TrimRight(fcb.RawName[:], "\x00"))
}

func (fcb *FCB) IsDir() bool {
	return fcb.IsDirectory != 0
}

// Record is one block of a file or directory chain.
type Record interface {
	Header() *RecordHeader
}

// FirstFileRecord is the first record of a file.
type FirstFileRecord struct {
	RecordHeader
	FCB     FCB
	Payload []byte
}

// FileRecord is a continuation record of a file.
type FileRecord struct {
	RecordHeader
	Payload []byte
}

// FirstDirectoryRecord is the first record of a directory.
type FirstDirectoryRecord struct {
	RecordHeader
	FCB FCB
	// EntryCount is the number of non-empty slots across the whole chain, not
	// just in this record.
	EntryCount uint32
	Children   []common.BlockID
}

// DirectoryRecord is a continuation record of a directory.
type DirectoryRecord struct {
	RecordHeader
	Children []common.BlockID
}

func (r *FirstFileRecord) Header() *RecordHeader      { return &r.RecordHeader }
func (r *FileRecord) Header() *RecordHeader           { return &r.RecordHeader }
func (r *FirstDirectoryRecord) Header() *RecordHeader { return &r.RecordHeader }
func (r *DirectoryRecord) Header() *RecordHeader      { return &r.RecordHeader }

// fcbOf returns the FCB of a first record, or nil for a continuation record.
func fcbOf(record Record) *FCB {
	switch r := record.(type) {
	case *FirstFileRecord:
		return &r.FCB
	case *FirstDirectoryRecord:
		return &r.FCB
	}
	return nil
}

// childrenOf returns the child slots of a directory record, or nil for a file
// record.
func childrenOf(record Record) []common.BlockID {
	switch r := record.(type) {
	case *FirstDirectoryRecord:
		return r.Children
	case *DirectoryRecord:
		return r.Children
	}
	return nil
}

// payloadOf returns the data area of a file record, or nil for a directory
// record.
func payloadOf(record Record) []byte {
	switch r := record.(type) {
	case *FirstFileRecord:
		return r.Payload
	case *FileRecord:
		return r.Payload
	}
	return nil
}

// Geometry gives the capacity of each kind of record for a block size.
type Geometry struct {
	BytesPerBlock       uint
	FirstFilePayload    uint
	FilePayload         uint
	FirstDirectorySlots uint
	DirectorySlots      uint
}

func NewGeometry(bytesPerBlock uint) Geometry {
	return Geometry{
		BytesPerBlock:       bytesPerBlock,
		FirstFilePayload:    bytesPerBlock - firstFileOverhead,
		FilePayload:         bytesPerBlock - RecordHeaderSize,
		FirstDirectorySlots: (bytesPerBlock - firstDirectoryOverhead) / 4,
		DirectorySlots:      (bytesPerBlock - RecordHeaderSize) / 4,
	}
}

// PayloadCapacity returns how many bytes of file data the record at `position`
// in a file chain can hold.
func (g Geometry) PayloadCapacity(position uint32) uint {
	if position == 0 {
		return g.FirstFilePayload
	}
	return g.FilePayload
}

// ValidateName checks that `name` can be stored in an FCB and used as a path
// component.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		msg := fmt.Sprintf(
			"name must be 1-%d bytes long, got %d: %q", MaxNameLength, len(name), name)
		return blockfs.ErrInvalidArgument.WithMessage(msg)
	}
	if name == "." || name == ".." {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is reserved", name))
	}
	if strings.ContainsAny(name, "/\x00") {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("name can't contain a slash or null byte: %q", name))
	}
	return nil
}

func newFCB(parent, self common.BlockID, name string, isDirectory bool) FCB {
	fcb := FCB{
		Parent:       parent,
		Self:         self,
		SizeInBlocks: 1,
	}
	copy(fcb.RawName[:], name)
	if isDirectory {
		fcb.IsDirectory = 1
	}
	return fcb
}

func newFirstFileRecord(g Geometry, parent, self common.BlockID, name string) *FirstFileRecord {
	return &FirstFileRecord{
		RecordHeader: RecordHeader{Previous: common.InvalidBlock, Next: common.InvalidBlock},
		FCB:          newFCB(parent, self, name, false),
		Payload:      make([]byte, g.FirstFilePayload),
	}
}

func newFirstDirectoryRecord(
	g Geometry, parent, self common.BlockID, name string,
) *FirstDirectoryRecord {
	record := &FirstDirectoryRecord{
		RecordHeader: RecordHeader{Previous: common.InvalidBlock, Next: common.InvalidBlock},
		FCB:          newFCB(parent, self, name, true),
		Children:     make([]common.BlockID, g.FirstDirectorySlots),
	}
	record.FCB.SizeInBytes = uint32(g.BytesPerBlock)
	return record
}

// newContinuation creates an empty record to be linked after `previous`, which
// is stored in block `previousBlock`.
func newContinuation(g Geometry, previous Record, previousBlock common.BlockID) Record {
	header := RecordHeader{
		Previous: previousBlock,
		Next:     common.InvalidBlock,
		Position: previous.Header().Position + 1,
	}

	switch previous.(type) {
	case *FirstDirectoryRecord, *DirectoryRecord:
		return &DirectoryRecord{
			RecordHeader: header,
			Children:     make([]common.BlockID, g.DirectorySlots),
		}
	default:
		return &FileRecord{
			RecordHeader: header,
			Payload:      make([]byte, g.FilePayload),
		}
	}
}

// EncodeRecord serializes a record into a buffer exactly one block long.
func EncodeRecord(record Record, g Geometry) ([]byte, error) {
	buffer := make([]byte, g.BytesPerBlock)
	writer := bytewriter.New(buffer)

	var fields []any
	switch r := record.(type) {
	case *FirstFileRecord:
		fields = []any{&r.RecordHeader, &r.FCB, r.Payload}
	case *FileRecord:
		fields = []any{&r.RecordHeader, r.Payload}
	case *FirstDirectoryRecord:
		fields = []any{&r.RecordHeader, &r.FCB, r.EntryCount, r.Children}
	case *DirectoryRecord:
		fields = []any{&r.RecordHeader, r.Children}
	default:
		return nil, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unknown record type %T", record))
	}

	for _, field := range fields {
		if err := binary.Write(writer, binary.LittleEndian, field); err != nil {
			msg := fmt.Sprintf("record doesn't fit in %d bytes", g.BytesPerBlock)
			return nil, blockfs.ErrPayloadTooLarge.Wrap(err).WithMessage(msg)
		}
	}
	return buffer, nil
}

// DecodeRecord deserializes a record read from `blockID`. A record at position
// 0 is a first record whose kind is given by its FCB. Continuation records have
// no FCB, so the caller says which chain they belong to.
func DecodeRecord(
	data []byte, blockID common.BlockID, isDirectory bool, g Geometry,
) (Record, error) {
	reader := bytes.NewReader(data[:g.BytesPerBlock])

	var header RecordHeader
	if err := binary.Read(reader, binary.LittleEndian, &header); err != nil {
		return nil, corruptedRecord(blockID, err)
	}

	if header.Position > 0 {
		if isDirectory {
			record := &DirectoryRecord{
				RecordHeader: header,
				Children:     make([]common.BlockID, g.DirectorySlots),
			}
			return record, readFields(reader, blockID, record.Children)
		}
		record := &FileRecord{RecordHeader: header, Payload: make([]byte, g.FilePayload)}
		return record, readFields(reader, blockID, record.Payload)
	}

	var fcb FCB
	if err := binary.Read(reader, binary.LittleEndian, &fcb); err != nil {
		return nil, corruptedRecord(blockID, err)
	}
	if fcb.Self != blockID {
		return nil, blockfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("block %d claims to be stored in block %d", blockID, fcb.Self))
	}

	if fcb.IsDir() {
		record := &FirstDirectoryRecord{
			RecordHeader: header,
			FCB:          fcb,
			Children:     make([]common.BlockID, g.FirstDirectorySlots),
		}
		return record, readFields(reader, blockID, &record.EntryCount, record.Children)
	}
	record := &FirstFileRecord{
		RecordHeader: header,
		FCB:          fcb,
		Payload:      make([]byte, g.FirstFilePayload),
	}
	return record, readFields(reader, blockID, record.Payload)
}

func readFields(reader io.Reader, blockID common.BlockID, fields ...any) error {
	for _, field := range fields {
		if err := binary.Read(reader, binary.LittleEndian, field); err != nil {
			return corruptedRecord(blockID, err)
		}
	}
	return nil
}

func corruptedRecord(blockID common.BlockID, err error) error {
	return blockfs.ErrFileSystemCorrupted.Wrap(err).WithMessage(
		fmt.Sprintf("malformed record in block %d", blockID))
}
