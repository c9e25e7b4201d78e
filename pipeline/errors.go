package pipeline

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrFormat means the file is not of the expected format or version.
	ErrFormat = errors.New("unrecognized file format")
	// ErrTruncated means a header or table extends past the end of the file.
	ErrTruncated = errors.New("truncated file")
	// ErrPartialSaveIncompatible means the on-disk layout no longer matches
	// the table and a full encode is required.
	ErrPartialSaveIncompatible = errors.New("partial save not possible")
	// ErrMissingImage means a layer had no bitmap to encode.
	ErrMissingImage = errors.New("layer has no image")
)

// CorruptLayerError wraps a codec failure with the layer it came from.
type CorruptLayerError struct {
	Index int
	Err   error
}

func (e *CorruptLayerError) Error() string {
	return fmt.Sprintf("layer %v: %v", e.Index, e.Err)
}

func (e *CorruptLayerError) Unwrap() error { return e.Err }

// ReadError converts a short read into ErrTruncated, naming what was
// being read.
func ReadError(what string, err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%v: %w", what, ErrTruncated)
	}
	return fmt.Errorf("%v: %w", what, err)
}

// Formatf returns an error wrapping ErrFormat.
func Formatf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", ErrFormat, fmt.Sprintf(format, args...))
}

// Incompatiblef returns an error wrapping ErrPartialSaveIncompatible.
func Incompatiblef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", ErrPartialSaveIncompatible, fmt.Sprintf(format, args...))
}
