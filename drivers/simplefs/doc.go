// Package simplefs implements a minimal directory tree on top of a
// [common.BlockDevice].
//
// Every file and directory is stored as a chain of block-sized records linked
// through their [RecordHeader]. The first record of a chain carries an [FCB]
// describing the entry; the rest only hold payload (for files) or child block
// IDs (for directories). The root directory always lives in block 0.
//
//	FirstFileRecord       [RecordHeader][FCB][payload]
//	FileRecord            [RecordHeader][payload]
//	FirstDirectoryRecord  [RecordHeader][FCB][entry count][child IDs]
//	DirectoryRecord       [RecordHeader][child IDs]
//
// An empty directory slot holds 0. Since block 0 is the root and the root is
// never anyone's child, 0 can't be a valid child ID.
package simplefs
