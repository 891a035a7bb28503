package leanify

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type LeanifyError interface {
	error
	WithMessage(message string) LeanifyError
	Wrap(err error) LeanifyError
}

type baseLeanifyError string

const rootError = baseLeanifyError("")

var ErrMalformed = rootError.WithMessage("Malformed input")
var ErrUnsupported = rootError.WithMessage("Unsupported format variant")
var ErrDecompress = rootError.WithMessage("Decompression failed")
var ErrChecksum = rootError.WithMessage("Checksum mismatch")
var ErrInvalidConfig = rootError.WithMessage("Invalid configuration")
var ErrIOFailed = rootError.WithMessage("Input/output error")
var ErrNotRegularFile = rootError.WithMessage("Not a regular file")

func (e baseLeanifyError) Error() string {
	return string(e)
}

func (e baseLeanifyError) WithMessage(message string) LeanifyError {
	return customLeanifyError{
		message:       message,
		originalError: e,
	}
}

func (e baseLeanifyError) Wrap(err error) LeanifyError {
	return customLeanifyError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customLeanifyError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customLeanifyError) Error() string {
	return e.message
}

func (e customLeanifyError) WithMessage(message string) LeanifyError {
	return customLeanifyError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customLeanifyError) Wrap(err error) LeanifyError {
	return customLeanifyError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customLeanifyError) Unwrap() error {
	return e.originalError
}
