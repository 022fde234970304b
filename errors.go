package blockfs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseBlockfsError string

const rootError = baseBlockfsError("")

var ErrAtRoot = rootError.WithMessage("Already at the root directory")
var ErrBusy = rootError.WithMessage("Device or resource busy")
var ErrExists = rootError.WithMessage("File exists")
var ErrFileDescriptorBadState = rootError.WithMessage("File descriptor in bad state")
var ErrFileSystemCorrupted = rootError.WithMessage("Structure needs cleaning")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrIOFailed = rootError.WithMessage("Input/output error")
var ErrNoSpaceOnDevice = rootError.WithMessage("No space left on device")
var ErrNotAllocated = rootError.WithMessage("Block not allocated")
var ErrNotFound = rootError.WithMessage("No such file or directory")
var ErrNotSupported = rootError.WithMessage("Operation not supported")
var ErrOutOfRange = rootError.WithMessage("Numerical argument out of domain")
var ErrPayloadTooLarge = rootError.WithMessage("Payload exceeds block size")

func (e baseBlockfsError) Error() string {
	return string(e)
}

func (e baseBlockfsError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseBlockfsError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}
