package cryptosqlite

import (
	"errors"
	"fmt"
)

// Error types represent different categories of errors

// ProtocolError reports a registration call made out of order or reentrantly
type ProtocolError struct {
	Operation string // "prepare", "open", "finish", "init", ...
	Path      string // Database path, if applicable
	Message   string // Human-readable error message
}

func (e *ProtocolError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("protocol error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Operation, e.Message)
}

// ConfigError represents an invalid configuration or an auxiliary file that
// cannot be associated with a main database
type ConfigError struct {
	Field   string // Config field or file path
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError represents a parameter validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EncryptionError represents a page encryption or decryption failure
type EncryptionError struct {
	Operation string // "encrypt" or "decrypt"
	Path      string // File path, if applicable
	Page      uint64 // Page number, if applicable
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *EncryptionError) Error() string {
	if e.Path != "" && e.Page > 0 {
		return fmt.Sprintf("%s error: %s (page %d): %s", e.Operation, e.Path, e.Page, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Operation, e.Message)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// IOError represents a keyfile or database I/O error
type IOError struct {
	Operation string // "read", "write", "open", "sync", "rename", ...
	Path      string // File path
	Offset    int64  // File offset, if applicable
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" && e.Offset >= 0 {
		return fmt.Sprintf("io error: %s %s at offset %d: %s", e.Operation, e.Path, e.Offset, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CorruptionError represents a structurally damaged page or file
type CorruptionError struct {
	Path    string // File path
	Page    uint64 // Page number, if applicable
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *CorruptionError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("corruption error: %s (page %d): %s", e.Path, e.Page, e.Message)
	} else if e.Path != "" {
		return fmt.Sprintf("corruption error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("corruption error: %s", e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents a failed integrity check while unwrapping
// the data key or decrypting a page. It means a wrong key or tampering.
type AuthenticationError struct {
	Path    string // File path
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *AuthenticationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("authentication error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrInvalidKey         = errors.New("invalid encryption key")
	ErrAuthFailed         = errors.New("authentication failed - wrong key or data tampered")
	ErrInvalidHeader      = errors.New("invalid key envelope header")
	ErrUnsupportedVersion = errors.New("unsupported key envelope version")
	ErrUnsupportedCipher  = errors.New("unsupported cipher suite")
	ErrUnsupportedKDF     = errors.New("unsupported key derivation function")
	ErrNilConfig          = errors.New("config cannot be nil")
	ErrNilBuffer          = errors.New("buffer cannot be nil")
	ErrNegativeOffset     = errors.New("negative offset not allowed")
	ErrNotSupported       = errors.New("operation not supported")
	ErrBusy               = errors.New("database file is locked")
	ErrClosed             = errors.New("file already closed")
	ErrUnknownSystemCall  = errors.New("unknown system call")
	ErrPartialPage        = errors.New("write does not cover exactly one page")
	ErrPageSizeUnknown    = errors.New("page size not yet known")
	ErrReservedBytes      = errors.New("reserved bytes at end of page are not zero")
	ErrKDFParams          = errors.New("key derivation parameters out of range")
)

// Helper functions for creating structured errors

// NewProtocolError creates a new protocol error
func NewProtocolError(operation, path, message string) error {
	return &ProtocolError{
		Operation: operation,
		Path:      path,
		Message:   message,
	}
}

// NewConfigError creates a new config error
func NewConfigError(field, message string) error {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewEncryptionError creates a new encryption error
func NewEncryptionError(operation, path string, page uint64, err error) error {
	return &EncryptionError{
		Operation: operation,
		Path:      path,
		Page:      page,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, path string, err error) error {
	return &IOError{
		Operation: operation,
		Path:      path,
		Offset:    -1,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewCorruptionError creates a new corruption error
func NewCorruptionError(path string, page uint64, message string) error {
	return &CorruptionError{
		Path:    path,
		Page:    page,
		Message: message,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(path string, err error) error {
	return &AuthenticationError{
		Path:    path,
		Message: err.Error(),
		Err:     err,
	}
}

// Error checking helpers

// IsProtocolError checks if an error is a protocol error
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsConfigError checks if an error is a config error
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsEncryptionError checks if an error is an encryption error
func IsEncryptionError(err error) bool {
	var ee *EncryptionError
	return errors.As(err, &ee)
}

// IsIOError checks if an error is an I/O error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// IsCorruptionError checks if an error is a corruption error
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsAuthenticationError checks if an error is an authentication error
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
