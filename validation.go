package cryptosqlite

import (
	"fmt"
)

const (
	// MinPageSize is the smallest database page size
	MinPageSize = 512

	// MaxPageSize is the largest database page size
	MaxPageSize = 65536
)

// ValidateBuffer checks if a buffer is valid (non-nil and has expected size)
func ValidateBuffer(buf []byte, name string, minSize int) error {
	if buf == nil {
		return &ValidationError{
			Field:   name,
			Message: "buffer cannot be nil",
			Err:     ErrNilBuffer,
		}
	}
	if minSize > 0 && len(buf) < minSize {
		return &ValidationError{
			Field:   name,
			Value:   len(buf),
			Message: fmt.Sprintf("buffer too small: got %d bytes, need at least %d bytes", len(buf), minSize),
		}
	}
	return nil
}

// ValidateOffset checks if a file offset is valid
func ValidateOffset(offset int64, name string) error {
	if offset < 0 {
		return &ValidationError{
			Field:   name,
			Value:   offset,
			Message: "offset cannot be negative",
			Err:     ErrNegativeOffset,
		}
	}
	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
			Err:     ErrInvalidKey,
		}
	}

	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
			Err:     ErrInvalidKey,
		}
	}

	return nil
}

// ValidatePageSize checks that size is a power of two between MinPageSize
// and MaxPageSize and leaves room for the cipher's reserved bytes
func ValidatePageSize(size, reserved int) error {
	if size < MinPageSize || size > MaxPageSize || size&(size-1) != 0 {
		return &ValidationError{
			Field:   "page_size",
			Value:   size,
			Message: fmt.Sprintf("page size must be a power of two between %d and %d", MinPageSize, MaxPageSize),
		}
	}
	if reserved >= size {
		return &ValidationError{
			Field:   "page_size",
			Value:   size,
			Message: fmt.Sprintf("page size %d cannot hold %d reserved bytes", size, reserved),
		}
	}
	return nil
}

// ValidateFilePath checks if a file path is valid (not empty)
func ValidateFilePath(path string) error {
	if path == "" {
		return &ValidationError{
			Field:   "path",
			Message: "file path cannot be empty",
		}
	}
	return nil
}

// ValidateReadWrite checks common preconditions for read/write operations
func ValidateReadWrite(buf []byte, offset int64) error {
	if buf == nil {
		return ErrNilBuffer
	}
	if offset < 0 {
		return ErrNegativeOffset
	}
	return nil
}
