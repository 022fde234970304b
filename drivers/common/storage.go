package common

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dargueta/blockfs"
)

// imageStore gives byte-level access to an entire device image: header, bitmap
// and blocks, in that order.
type imageStore interface {
	// Data returns the whole image. Modifications to the slice are persisted by
	// the next call to Sync.
	Data() []byte
	// Sync writes the image to durable storage.
	Sync() error
	// Close releases all resources. The slice returned by Data must not be used
	// afterwards.
	Close() error
}

// streamStore keeps a copy of the image in memory and writes the whole image
// back to its stream on every sync.
type streamStore struct {
	stream io.ReadWriteSeeker
	data   []byte
}

// openStreamStore loads the image held in `stream`. If the stream doesn't begin
// with a device header, a zeroed image of `sizeIfCreated` bytes is created
// instead and the second return value is true. The stream is resized if it
// implements [Truncator]; otherwise it must already be large enough.
func openStreamStore(
	stream io.ReadWriteSeeker, sizeIfCreated int64,
) (*streamStore, bool, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, false, blockfs.ErrIOFailed.Wrap(err)
	}

	if size >= HeaderSize {
		data := make([]byte, size)
		if _, err = stream.Seek(0, io.SeekStart); err != nil {
			return nil, false, blockfs.ErrIOFailed.Wrap(err)
		}
		if _, err = io.ReadFull(stream, data); err != nil {
			return nil, false, blockfs.ErrIOFailed.Wrap(err)
		}

		magic := (&Header{Magic: HeaderMagic}).Encode()[:8]
		if bytes.Equal(data[:8], magic) {
			return &streamStore{stream: stream, data: data}, false, nil
		}
	}

	if size < sizeIfCreated {
		truncator, ok := stream.(Truncator)
		if !ok {
			msg := fmt.Sprintf(
				"stream is %d bytes and can't be resized to %d", size, sizeIfCreated)
			return nil, false, blockfs.ErrIOFailed.WithMessage(msg)
		}
		if err = truncator.Truncate(sizeIfCreated); err != nil {
			return nil, false, blockfs.ErrIOFailed.Wrap(err)
		}
	}

	store := &streamStore{stream: stream, data: make([]byte, sizeIfCreated)}
	return store, true, nil
}

func (s *streamStore) Data() []byte {
	return s.data
}

func (s *streamStore) Sync() error {
	if _, err := s.stream.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := s.stream.Write(s.data)
	return err
}

func (s *streamStore) Close() error {
	closer, ok := s.stream.(io.Closer)
	s.data = nil
	if ok {
		return closer.Close()
	}
	return nil
}
