package cryptosqlite

import (
	"io"
	"time"
)

// OpenFlag carries the open flags a host engine passes to VFS.Open. The
// values match SQLite's SQLITE_OPEN_* constants.
type OpenFlag uint32

const (
	OpenReadOnly      OpenFlag = 0x00000001
	OpenReadWrite     OpenFlag = 0x00000002
	OpenCreate        OpenFlag = 0x00000004
	OpenDeleteOnClose OpenFlag = 0x00000008
	OpenExclusive     OpenFlag = 0x00000010
	OpenMainDB        OpenFlag = 0x00000100
	OpenTempDB        OpenFlag = 0x00000200
	OpenTransientDB   OpenFlag = 0x00000400
	OpenMainJournal   OpenFlag = 0x00000800
	OpenTempJournal   OpenFlag = 0x00001000
	OpenSubJournal    OpenFlag = 0x00002000
	OpenSuperJournal  OpenFlag = 0x00004000
	OpenWAL           OpenFlag = 0x00080000
)

// AccessFlag selects the check performed by VFS.Access
type AccessFlag uint8

const (
	AccessExists    AccessFlag = 0
	AccessReadWrite AccessFlag = 1
	AccessRead      AccessFlag = 2
)

// LockLevel is a SQLite file lock level
type LockLevel uint8

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// String returns the lock level name
func (l LockLevel) String() string {
	switch l {
	case LockNone:
		return "none"
	case LockShared:
		return "shared"
	case LockReserved:
		return "reserved"
	case LockPending:
		return "pending"
	case LockExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// DeviceCharacteristic is a bit set describing the storage device
type DeviceCharacteristic uint32

const (
	DeviceAtomic      DeviceCharacteristic = 0x00000001
	DeviceSafeAppend  DeviceCharacteristic = 0x00000200
	DeviceSequential  DeviceCharacteristic = 0x00000400
	DevicePowersafeOW DeviceCharacteristic = 0x00001000
)

// File is an open file as seen by the host engine
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate changes the size of the file
	Truncate(size int64) error

	// Sync flushes the file to stable storage
	Sync() error

	// Size returns the current file size
	Size() (int64, error)

	// Lock raises the lock to level
	Lock(level LockLevel) error

	// Unlock lowers the lock to level
	Unlock(level LockLevel) error

	// CheckReservedLock reports whether any connection holds a reserved or
	// stronger lock
	CheckReservedLock() (bool, error)

	// SectorSize returns the device sector size
	SectorSize() int

	// DeviceCharacteristics describes the device
	DeviceCharacteristics() DeviceCharacteristic
}

// VFS is the complete method set a host engine calls on a virtual
// filesystem. It mirrors the host's flat method table one to one; see
// MethodTable for the table form.
type VFS interface {
	// Name identifies the VFS in the host registry
	Name() string

	// Open opens name with flags and returns the file and the effective flags
	Open(name string, flags OpenFlag) (File, OpenFlag, error)

	// Delete removes name, syncing its directory when syncDir is set
	Delete(name string, syncDir bool) error

	// Access checks name for existence or permissions
	Access(name string, flags AccessFlag) (bool, error)

	// FullPathname returns the canonical absolute path for name
	FullPathname(name string) (string, error)

	// DlOpen loads a shared library
	DlOpen(filename string) (uintptr, error)

	// DlError returns the most recent dynamic loading error message
	DlError() string

	// DlSym resolves symbol in a loaded library
	DlSym(handle uintptr, symbol string) (uintptr, error)

	// DlClose unloads a library
	DlClose(handle uintptr) error

	// Randomness fills p with random bytes and returns how many were written
	Randomness(p []byte) int

	// Sleep pauses for at least d and returns the time actually slept
	Sleep(d time.Duration) time.Duration

	// CurrentTime returns the current Julian day number
	CurrentTime() (float64, error)

	// CurrentTimeInt64 returns the current Julian day in milliseconds
	CurrentTimeInt64() (int64, error)

	// GetLastError returns the last OS error code and message
	GetLastError() (int, string)

	// SetSystemCall overrides the named system call; fn 0 restores the default
	SetSystemCall(name string, fn uintptr) error

	// GetSystemCall returns the current implementation of a system call
	GetSystemCall(name string) uintptr

	// NextSystemCall returns the system call name after name, "" at the end
	NextSystemCall(name string) string
}
