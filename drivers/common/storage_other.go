//go:build !unix

package common

import "github.com/dargueta/blockfs"

func openMappedFile(path string, sizeIfCreated int64) (imageStore, bool, error) {
	return nil, false, blockfs.ErrNotSupported.WithMessage(
		"memory-mapped images require a Unix system; use OpenStream instead")
}
