package simplefs

import (
	"fmt"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/drivers/common"
)

// DirectoryHandle is an open directory. The handle doesn't lock anything; it
// re-reads the directory's first record before every operation, so it sees
// changes made through other handles.
type DirectoryHandle struct {
	fs     *SimpleFS
	block  common.BlockID
	record *FirstDirectoryRecord
	// parent is nil only for the handle returned by [Mount].
	parent *DirectoryHandle
}

// Entry describes one child of a directory.
type Entry struct {
	Name         string         `csv:"name"`
	IsDirectory  bool           `csv:"is_directory"`
	SizeInBytes  uint32         `csv:"size"`
	SizeInBlocks uint32         `csv:"blocks"`
	Block        common.BlockID `csv:"block"`
}

// slot is the location of one child slot in a directory chain.
type slot struct {
	block  common.BlockID
	record Record
	index  int
}

func (s slot) child() common.BlockID {
	return childrenOf(s.record)[s.index]
}

func (s slot) set(child common.BlockID) {
	childrenOf(s.record)[s.index] = child
}

// match is a directory entry found by lookup.
type match struct {
	slot   slot
	block  common.BlockID
	record Record
	fcb    *FCB
}

func (dir *DirectoryHandle) Name() string {
	return dir.record.FCB.Name()
}

// Block returns the block holding the directory's first record.
func (dir *DirectoryHandle) Block() common.BlockID {
	return dir.block
}

func (dir *DirectoryHandle) IsRoot() bool {
	return dir.block == RootBlock
}

// Parent returns the handle this one was reached from, or nil for the root.
func (dir *DirectoryHandle) Parent() *DirectoryHandle {
	return dir.parent
}

// EntryCount returns the number of entries in the directory.
func (dir *DirectoryHandle) EntryCount() (uint, error) {
	if err := dir.refresh(); err != nil {
		return 0, err
	}
	return uint(dir.record.EntryCount), nil
}

func (dir *DirectoryHandle) refresh() error {
	record, err := dir.fs.readFirstDirectory(dir.block)
	if err != nil {
		return err
	}
	dir.record = record
	return nil
}

// walkSlots calls `visit` on every slot of the directory chain starting at
// `block`, in chain order, until it returns true or an error.
func (fs *SimpleFS) walkSlots(
	block common.BlockID, first *FirstDirectoryRecord, visit func(slot) (bool, error),
) error {
	return fs.walkChain(
		block,
		first,
		true,
		func(recordBlock common.BlockID, record Record) (bool, error) {
			for i := range childrenOf(record) {
				stop, err := visit(slot{block: recordBlock, record: record, index: i})
				if stop || err != nil {
					return stop, err
				}
			}
			return false, nil
		},
	)
}

// lookup finds the entry named `name`. It returns nil if there is none.
func (dir *DirectoryHandle) lookup(name string) (*match, error) {
	var found *match
	err := dir.fs.walkSlots(dir.block, dir.record, func(s slot) (bool, error) {
		child := s.child()
		if child == emptySlot {
			return false, nil
		}
		record, fcb, err := dir.fs.readEntry(child)
		if err != nil {
			return false, err
		}
		if fcb.Name() == name {
			found = &match{slot: s, block: child, record: record, fcb: fcb}
			return true, nil
		}
		return false, nil
	})
	return found, err
}

// Entries returns every entry of the directory in slot order.
func (dir *DirectoryHandle) Entries() ([]Entry, error) {
	if err := dir.refresh(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, dir.record.EntryCount)
	err := dir.fs.walkSlots(dir.block, dir.record, func(s slot) (bool, error) {
		child := s.child()
		if child == emptySlot {
			return false, nil
		}
		_, fcb, err := dir.fs.readEntry(child)
		if err != nil {
			return false, err
		}
		entries = append(entries, Entry{
			Name:         fcb.Name(),
			IsDirectory:  fcb.IsDir(),
			SizeInBytes:  fcb.SizeInBytes,
			SizeInBlocks: fcb.SizeInBlocks,
			Block:        child,
		})
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	if uint32(len(entries)) != dir.record.EntryCount {
		dir.fs.log.Warnf(
			"directory %q claims %d entries but has %d",
			dir.Name(),
			dir.record.EntryCount,
			len(entries))
	}
	return entries, nil
}

// List returns the names of every entry in the directory, in slot order.
func (dir *DirectoryHandle) List() ([]string, error) {
	entries, err := dir.Entries()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name
	}
	return names, nil
}

// CreateFile creates an empty file in this directory and returns a handle to
// it, positioned at the beginning.
func (dir *DirectoryHandle) CreateFile(name string) (*FileHandle, error) {
	block, record, err := dir.addEntry(name, false)
	if err != nil {
		return nil, err
	}
	return &FileHandle{fs: dir.fs, block: block, record: record.(*FirstFileRecord)}, nil
}

// MakeDir creates an empty directory in this directory.
func (dir *DirectoryHandle) MakeDir(name string) error {
	_, _, err := dir.addEntry(name, true)
	return err
}

// OpenFile returns a handle to the file named `name`, positioned at the
// beginning. Directories never match.
func (dir *DirectoryHandle) OpenFile(name string) (*FileHandle, error) {
	if err := dir.refresh(); err != nil {
		return nil, err
	}

	found, err := dir.lookup(name)
	if err != nil {
		return nil, err
	}
	if found == nil || found.fcb.IsDir() {
		return nil, blockfs.ErrNotFound.WithMessage(
			fmt.Sprintf("no file named %q in %q", name, dir.Name()))
	}
	return &FileHandle{fs: dir.fs, block: found.block, record: found.record.(*FirstFileRecord)}, nil
}

// ChangeDir returns a handle to the subdirectory `name`, or to the parent
// directory if `name` is "..".
func (dir *DirectoryHandle) ChangeDir(name string) (*DirectoryHandle, error) {
	if name == ".." {
		if dir.parent == nil {
			return nil, blockfs.ErrAtRoot.WithMessage("can't go above the root directory")
		}
		if err := dir.parent.refresh(); err != nil {
			return nil, err
		}
		return dir.parent, nil
	}

	if err := dir.refresh(); err != nil {
		return nil, err
	}
	found, err := dir.lookup(name)
	if err != nil {
		return nil, err
	}
	if found == nil || !found.fcb.IsDir() {
		return nil, blockfs.ErrNotFound.WithMessage(
			fmt.Sprintf("no directory named %q in %q", name, dir.Name()))
	}

	return &DirectoryHandle{
		fs:     dir.fs,
		block:  found.block,
		record: found.record.(*FirstDirectoryRecord),
		parent: dir,
	}, nil
}

// addEntry creates the first record of a new file or directory and links it
// into the first empty slot of this directory. A new directory record is added
// to the chain if every slot is taken.
func (dir *DirectoryHandle) addEntry(name string, isDirectory bool) (common.BlockID, Record, error) {
	if err := ValidateName(name); err != nil {
		return common.InvalidBlock, nil, err
	}
	if err := dir.refresh(); err != nil {
		return common.InvalidBlock, nil, err
	}

	var freeSlot *slot
	var last slot
	err := dir.fs.walkSlots(dir.block, dir.record, func(s slot) (bool, error) {
		last = s
		child := s.child()
		if child == emptySlot {
			if freeSlot == nil {
				freeSlot = &s
			}
			return false, nil
		}

		_, fcb, err := dir.fs.readEntry(child)
		if err != nil {
			return false, err
		}
		if fcb.Name() == name {
			return true, blockfs.ErrExists.WithMessage(
				fmt.Sprintf("%q already exists in %q", name, dir.Name()))
		}
		return false, nil
	})
	if err != nil {
		return common.InvalidBlock, nil, err
	}

	needed := uint(1)
	if freeSlot == nil {
		needed++
	}
	if err = dir.fs.reserve(needed); err != nil {
		return common.InvalidBlock, nil, err
	}

	childBlock, err := dir.fs.allocateRecord()
	if err != nil {
		return common.InvalidBlock, nil, err
	}

	var child Record
	if isDirectory {
		child = newFirstDirectoryRecord(dir.fs.geometry, dir.block, childBlock, name)
	} else {
		child = newFirstFileRecord(dir.fs.geometry, dir.block, childBlock, name)
	}
	if err = dir.fs.writeRecord(childBlock, child); err != nil {
		return common.InvalidBlock, nil, err
	}

	if freeSlot == nil {
		extension, err := dir.extend(last)
		if err != nil {
			return common.InvalidBlock, nil, err
		}
		freeSlot = &extension
	}

	freeSlot.set(childBlock)
	dir.record.EntryCount++
	if freeSlot.record != Record(dir.record) {
		if err = dir.fs.writeRecord(freeSlot.block, freeSlot.record); err != nil {
			return common.InvalidBlock, nil, err
		}
	}
	if err = dir.fs.writeRecord(dir.block, dir.record); err != nil {
		return common.InvalidBlock, nil, err
	}

	dir.fs.log.Debugf(
		"created %q in block %d under %q (directory: %t)",
		name,
		childBlock,
		dir.Name(),
		isDirectory)
	return childBlock, child, nil
}

// extend appends an empty directory record to the chain after the record
// holding `last`, and returns its first slot. The directory's first record is
// updated in memory but not written.
func (dir *DirectoryHandle) extend(last slot) (slot, error) {
	blockID, err := dir.fs.allocateRecord()
	if err != nil {
		return slot{}, err
	}

	extension := newContinuation(dir.fs.geometry, last.record, last.block)
	if err = dir.fs.writeRecord(blockID, extension); err != nil {
		return slot{}, err
	}

	last.record.Header().Next = blockID
	if last.record != Record(dir.record) {
		if err = dir.fs.writeRecord(last.block, last.record); err != nil {
			return slot{}, err
		}
	}

	dir.record.FCB.SizeInBlocks++
	dir.record.FCB.SizeInBytes = dir.record.FCB.SizeInBlocks * uint32(dir.fs.geometry.BytesPerBlock)
	dir.fs.log.Debugf(
		"extended directory %q with block %d (record %d)",
		dir.Name(),
		blockID,
		extension.Header().Position)
	return slot{block: blockID, record: extension, index: 0}, nil
}

// removal is one item of the work list built by Remove.
type removal struct {
	block       common.BlockID
	parent      common.BlockID
	record      Record
	isDirectory bool
	expanded    bool
}

// Remove deletes the entry named `name`. Directories are removed along with
// everything in them, deepest entries first. Removal stops at the first error,
// leaving whatever hasn't been removed yet in place.
func (dir *DirectoryHandle) Remove(name string) error {
	if err := dir.refresh(); err != nil {
		return err
	}
	found, err := dir.lookup(name)
	if err != nil {
		return err
	}
	if found == nil {
		return blockfs.ErrNotFound.WithMessage(
			fmt.Sprintf("no entry named %q in %q", name, dir.Name()))
	}

	pending := []*removal{{
		block:       found.block,
		parent:      dir.block,
		record:      found.record,
		isDirectory: found.fcb.IsDir(),
	}}

	for len(pending) > 0 {
		item := pending[len(pending)-1]

		if item.isDirectory && !item.expanded {
			item.expanded = true
			children, err := dir.fs.childRemovals(item)
			if err != nil {
				return err
			}
			pending = append(pending, children...)
			continue
		}

		pending = pending[:len(pending)-1]
		if err = dir.fs.freeChain(item.block, item.record, item.isDirectory); err != nil {
			return err
		}
		if err = dir.fs.detach(item.parent, item.block); err != nil {
			return err
		}
	}

	dir.fs.log.Debugf("removed %q from %q", name, dir.Name())
	return dir.refresh()
}

// childRemovals lists the entries of the directory `item` as removals.
func (fs *SimpleFS) childRemovals(item *removal) ([]*removal, error) {
	first := item.record.(*FirstDirectoryRecord)
	var children []*removal

	err := fs.walkSlots(item.block, first, func(s slot) (bool, error) {
		child := s.child()
		if child == emptySlot {
			return false, nil
		}
		record, fcb, err := fs.readEntry(child)
		if err != nil {
			return false, err
		}
		children = append(children, &removal{
			block:       child,
			parent:      item.block,
			record:      record,
			isDirectory: fcb.IsDir(),
		})
		return false, nil
	})
	return children, err
}

// detach clears the slot pointing to `child` in the directory starting at
// `parent`, and decrements the directory's entry count. Empty directory
// records are kept in the chain.
func (fs *SimpleFS) detach(parent, child common.BlockID) error {
	first, err := fs.readFirstDirectory(parent)
	if err != nil {
		return err
	}

	var found *slot
	err = fs.walkSlots(parent, first, func(s slot) (bool, error) {
		if s.child() == child {
			found = &s
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if found == nil {
		msg := fmt.Sprintf("block %d is not listed in directory %d", child, parent)
		return blockfs.ErrFileSystemCorrupted.WithMessage(msg)
	}

	found.set(emptySlot)
	if first.EntryCount > 0 {
		first.EntryCount--
	}
	if found.record != Record(first) {
		if err = fs.writeRecord(found.block, found.record); err != nil {
			return err
		}
	}
	return fs.writeRecord(parent, first)
}
