package cryptosqlite

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

// unixEpochJulianMs is the Unix epoch expressed in Julian day milliseconds
const unixEpochJulianMs = 210866760000000

// systemCalls are the overridable primitives BaseVFS exposes
var systemCalls = []string{"close", "open", "read", "stat", "sync", "truncate", "unlink", "write"}

// BaseVFS is a complete VFS over an absfs.FileSystem. It is the default
// underlying VFS of the encrypting shim.
type BaseVFS struct {
	name  string
	fs    absfs.FileSystem
	locks *lockTable

	mu       sync.Mutex
	lastErr  error
	syscalls map[string]uintptr
}

// NewBaseVFS returns a VFS named name over fs
func NewBaseVFS(name string, fs absfs.FileSystem) (*BaseVFS, error) {
	if fs == nil {
		return nil, NewConfigError("fs", "base filesystem cannot be nil")
	}
	if name == "" {
		name = "absfs"
	}
	return &BaseVFS{
		name:     name,
		fs:       fs,
		locks:    newLockTable(),
		syscalls: make(map[string]uintptr),
	}, nil
}

// NewMemoryVFS returns a BaseVFS over a fresh in-memory filesystem
func NewMemoryVFS() (*BaseVFS, error) {
	fs, err := memfs.NewFS()
	if err != nil {
		return nil, fmt.Errorf("failed to create memfs: %w", err)
	}
	return NewBaseVFS("memory", fs)
}

// NewDirVFS returns a BaseVFS over the host directory root
func NewDirVFS(root string) (*BaseVFS, error) {
	fs, err := NewDirFS(root)
	if err != nil {
		return nil, err
	}
	return NewBaseVFS("dir", fs)
}

// FileSystem returns the filesystem backing the VFS
func (v *BaseVFS) FileSystem() absfs.FileSystem {
	return v.fs
}

func (v *BaseVFS) Name() string {
	return v.name
}

func (v *BaseVFS) setLastError(err error) error {
	if err != nil {
		v.mu.Lock()
		v.lastErr = err
		v.mu.Unlock()
	}
	return err
}

// Open opens name according to flags. Files without a name are anonymous
// temporary files, deleted on close.
func (v *BaseVFS) Open(name string, flags OpenFlag) (File, OpenFlag, error) {
	deleteOnClose := flags&OpenDeleteOnClose != 0
	if name == "" {
		name = path.Join(v.fs.TempDir(), "cryptosqlite-"+randomSuffix())
		deleteOnClose = true
	}
	full, err := v.FullPathname(name)
	if err != nil {
		return nil, 0, v.setLastError(err)
	}

	mode := os.O_RDONLY
	if flags&OpenReadWrite != 0 {
		mode = os.O_RDWR
	}
	if flags&OpenCreate != 0 {
		mode |= os.O_CREATE
		if dir := path.Dir(full); dir != "/" {
			if err := v.fs.MkdirAll(dir, 0755); err != nil {
				return nil, 0, v.setLastError(err)
			}
		}
	}
	if flags&OpenExclusive != 0 {
		mode |= os.O_EXCL
	}

	f, err := v.fs.OpenFile(full, mode, 0644)
	if err != nil {
		return nil, 0, v.setLastError(err)
	}

	v.locks.acquire(full)
	out := flags
	if mode&os.O_RDWR == 0 {
		out = (out &^ OpenReadWrite) | OpenReadOnly
	}
	return &baseFile{
		vfs:           v,
		file:          f,
		path:          full,
		deleteOnClose: deleteOnClose,
	}, out, nil
}

func (v *BaseVFS) Delete(name string, syncDir bool) error {
	full, err := v.FullPathname(name)
	if err != nil {
		return v.setLastError(err)
	}
	return v.setLastError(v.fs.Remove(full))
}

func (v *BaseVFS) Access(name string, flags AccessFlag) (bool, error) {
	full, err := v.FullPathname(name)
	if err != nil {
		return false, v.setLastError(err)
	}
	info, err := v.fs.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, v.setLastError(err)
	}
	switch flags {
	case AccessReadWrite:
		return info.Mode().Perm()&0200 != 0, nil
	case AccessRead:
		return info.Mode().Perm()&0400 != 0, nil
	default:
		return true, nil
	}
}

// FullPathname cleans name and resolves it against the working directory
func (v *BaseVFS) FullPathname(name string) (string, error) {
	if err := ValidateFilePath(name); err != nil {
		return "", err
	}
	if path.IsAbs(name) {
		return path.Clean(name), nil
	}
	wd, err := v.fs.Getwd()
	if err != nil {
		return "", err
	}
	return path.Join("/", wd, name), nil
}

func (v *BaseVFS) DlOpen(filename string) (uintptr, error) {
	return 0, v.setLastError(fmt.Errorf("dlopen %s: %w", filename, ErrNotSupported))
}

func (v *BaseVFS) DlError() string {
	return "dynamic library loading is not supported"
}

func (v *BaseVFS) DlSym(handle uintptr, symbol string) (uintptr, error) {
	return 0, fmt.Errorf("dlsym %s: %w", symbol, ErrNotSupported)
}

func (v *BaseVFS) DlClose(handle uintptr) error {
	return ErrNotSupported
}

func (v *BaseVFS) Randomness(p []byte) int {
	n, _ := rand.Read(p)
	return n
}

func (v *BaseVFS) Sleep(d time.Duration) time.Duration {
	start := time.Now()
	time.Sleep(d)
	return time.Since(start)
}

func (v *BaseVFS) CurrentTime() (float64, error) {
	ms, err := v.CurrentTimeInt64()
	return float64(ms) / 86400000.0, err
}

func (v *BaseVFS) CurrentTimeInt64() (int64, error) {
	return unixEpochJulianMs + time.Now().UnixMilli(), nil
}

func (v *BaseVFS) GetLastError() (int, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lastErr == nil {
		return 0, ""
	}
	return 1, v.lastErr.Error()
}

func (v *BaseVFS) SetSystemCall(name string, fn uintptr) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if name == "" {
		clear(v.syscalls)
		return nil
	}
	if !knownSystemCall(name) {
		return fmt.Errorf("%s: %w", name, ErrUnknownSystemCall)
	}
	if fn == 0 {
		delete(v.syscalls, name)
		return nil
	}
	v.syscalls[name] = fn
	return nil
}

func (v *BaseVFS) GetSystemCall(name string) uintptr {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.syscalls[name]
}

func (v *BaseVFS) NextSystemCall(name string) string {
	if name == "" {
		return systemCalls[0]
	}
	i := sort.SearchStrings(systemCalls, name)
	if i < len(systemCalls) && systemCalls[i] == name {
		i++
	}
	if i >= len(systemCalls) {
		return ""
	}
	return systemCalls[i]
}

func knownSystemCall(name string) bool {
	i := sort.SearchStrings(systemCalls, name)
	return i < len(systemCalls) && systemCalls[i] == name
}

func randomSuffix() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x", b[:])
}

// baseFile adapts an absfs.File to the host File interface
type baseFile struct {
	vfs           *BaseVFS
	file          absfs.File
	path          string
	deleteOnClose bool
	level         LockLevel
	closed        bool
}

func (f *baseFile) ReadAt(p []byte, off int64) (int, error) {
	if err := ValidateReadWrite(p, off); err != nil {
		return 0, err
	}
	n, err := f.file.ReadAt(p, off)
	if err == io.EOF && n < len(p) {
		clear(p[n:])
	}
	return n, err
}

func (f *baseFile) WriteAt(p []byte, off int64) (int, error) {
	if err := ValidateReadWrite(p, off); err != nil {
		return 0, err
	}
	return f.file.WriteAt(p, off)
}

func (f *baseFile) Truncate(size int64) error {
	return f.file.Truncate(size)
}

func (f *baseFile) Sync() error {
	return f.file.Sync()
}

func (f *baseFile) Size() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *baseFile) Lock(level LockLevel) error {
	return f.vfs.locks.lock(f, level)
}

func (f *baseFile) Unlock(level LockLevel) error {
	return f.vfs.locks.unlock(f, level)
}

func (f *baseFile) CheckReservedLock() (bool, error) {
	return f.vfs.locks.reservedHeld(f.path), nil
}

func (f *baseFile) SectorSize() int {
	return 512
}

func (f *baseFile) DeviceCharacteristics() DeviceCharacteristic {
	return 0
}

func (f *baseFile) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	f.vfs.locks.release(f)
	err := f.file.Close()
	if f.deleteOnClose {
		if rmErr := f.vfs.fs.Remove(f.path); rmErr != nil && err == nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
	}
	return err
}
