package cryptosqlite

import (
	"errors"
	"io"
	"os"
	"time"
)

// SQLite result codes returned through a MethodTable
const (
	ResultOK             = 0
	ResultError          = 1
	ResultBusy           = 5
	ResultIOErr          = 10
	ResultCorrupt        = 11
	ResultNotFound       = 12
	ResultCantOpen       = 14
	ResultMisuse         = 21
	ResultNotADB         = 26
	ResultIOErrShortRead = 522
)

// ResultCode maps an error to the SQLite result code a host engine expects
func ResultCode(err error) int {
	if err == nil {
		return ResultOK
	}

	var (
		protoErr *ProtocolError
		authErr  *AuthenticationError
		confErr  *ConfigError
		corrErr  *CorruptionError
		ioErr    *IOError
		encErr   *EncryptionError
	)
	switch {
	case errors.Is(err, io.EOF):
		return ResultIOErrShortRead
	case errors.Is(err, ErrBusy):
		return ResultBusy
	case errors.As(err, &protoErr):
		return ResultMisuse
	case errors.As(err, &authErr):
		return ResultNotADB
	case errors.As(err, &confErr):
		return ResultCantOpen
	case errors.As(err, &corrErr):
		return ResultCorrupt
	case errors.As(err, &ioErr), errors.As(err, &encErr):
		return ResultIOErr
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return ResultCantOpen
	case errors.Is(err, ErrNotSupported), errors.Is(err, ErrUnknownSystemCall):
		return ResultNotFound
	default:
		return ResultError
	}
}

// MethodTable is the flat function table handed to a host engine. Each entry
// translates one VFS method to result codes and does nothing else.
type MethodTable struct {
	Version     int
	MaxPathname int
	Name        string

	XOpen             func(name string, flags OpenFlag) (File, OpenFlag, int)
	XDelete           func(name string, syncDir bool) int
	XAccess           func(name string, flags AccessFlag) (bool, int)
	XFullPathname     func(name string) (string, int)
	XDlOpen           func(filename string) uintptr
	XDlError          func() string
	XDlSym            func(handle uintptr, symbol string) uintptr
	XDlClose          func(handle uintptr)
	XRandomness       func(p []byte) int
	XSleep            func(microseconds int) int
	XCurrentTime      func() (float64, int)
	XGetLastError     func() (int, string)
	XCurrentTimeInt64 func() (int64, int)
	XSetSystemCall    func(name string, fn uintptr) int
	XGetSystemCall    func(name string) uintptr
	XNextSystemCall   func(name string) string
}

// NewMethodTable builds the table for v
func NewMethodTable(v VFS) *MethodTable {
	return &MethodTable{
		Version:     3,
		MaxPathname: 1024,
		Name:        v.Name(),

		XOpen: func(name string, flags OpenFlag) (File, OpenFlag, int) {
			f, out, err := v.Open(name, flags)
			return f, out, ResultCode(err)
		},
		XDelete: func(name string, syncDir bool) int {
			return ResultCode(v.Delete(name, syncDir))
		},
		XAccess: func(name string, flags AccessFlag) (bool, int) {
			ok, err := v.Access(name, flags)
			return ok, ResultCode(err)
		},
		XFullPathname: func(name string) (string, int) {
			full, err := v.FullPathname(name)
			return full, ResultCode(err)
		},
		XDlOpen: func(filename string) uintptr {
			h, _ := v.DlOpen(filename)
			return h
		},
		XDlError: v.DlError,
		XDlSym: func(handle uintptr, symbol string) uintptr {
			sym, _ := v.DlSym(handle, symbol)
			return sym
		},
		XDlClose: func(handle uintptr) {
			_ = v.DlClose(handle)
		},
		XRandomness: v.Randomness,
		XSleep: func(microseconds int) int {
			slept := v.Sleep(time.Duration(microseconds) * time.Microsecond)
			return int(slept / time.Microsecond)
		},
		XCurrentTime: func() (float64, int) {
			t, err := v.CurrentTime()
			return t, ResultCode(err)
		},
		XGetLastError: v.GetLastError,
		XCurrentTimeInt64: func() (int64, int) {
			t, err := v.CurrentTimeInt64()
			return t, ResultCode(err)
		},
		XSetSystemCall: func(name string, fn uintptr) int {
			return ResultCode(v.SetSystemCall(name, fn))
		},
		XGetSystemCall:  v.GetSystemCall,
		XNextSystemCall: v.NextSystemCall,
	}
}
