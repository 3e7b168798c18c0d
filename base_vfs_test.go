package cryptosqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBase(t *testing.T) *BaseVFS {
	t.Helper()
	base, err := NewDirVFS(t.TempDir())
	require.NoError(t, err)
	return base
}

func TestNewBaseVFS(t *testing.T) {
	_, err := NewBaseVFS("x", nil)
	assert.True(t, IsConfigError(err))

	v, err := NewBaseVFS("", newTestFS(t))
	require.NoError(t, err)
	assert.Equal(t, "absfs", v.Name())

	mem, err := NewMemoryVFS()
	require.NoError(t, err)
	assert.Equal(t, "memory", mem.Name())
	assert.NotNil(t, mem.FileSystem())
}

func TestBaseVFS_MemoryRoundTrip(t *testing.T) {
	mem, err := NewMemoryVFS()
	require.NoError(t, err)
	v, err := NewCryptVFS(mem, testConfig(t))
	require.NoError(t, err)
	defer v.Close()

	writeDatabase(t, v, "app.db", "secret", 2, 512)
	f := openMain(t, v, "app.db", "secret")
	defer f.Close()
	buf := make([]byte, 512)
	_, err = f.ReadAt(buf, 512)
	require.NoError(t, err)
	assert.Equal(t, "page 2", string(buf[:6]))
}

func TestBaseVFS_Open(t *testing.T) {
	base := newTestBase(t)

	_, _, err := base.Open("missing.db", OpenMainDB|OpenReadWrite)
	require.Error(t, err)
	assert.Equal(t, ResultCantOpen, ResultCode(err))
	code, msg := base.GetLastError()
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, msg)

	f, out, err := base.Open("nested/dir/app.db", OpenMainDB|OpenReadWrite|OpenCreate)
	require.NoError(t, err)
	assert.Equal(t, OpenMainDB|OpenReadWrite|OpenCreate, out)
	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), ErrClosed)

	_, _, err = base.Open("nested/dir/app.db", OpenMainDB|OpenReadWrite|OpenCreate|OpenExclusive)
	assert.Error(t, err, "exclusive create of an existing file")

	ro, out, err := base.Open("nested/dir/app.db", OpenMainDB|OpenReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, OpenMainDB|OpenReadOnly, out)
	buf := make([]byte, 5)
	_, err = ro.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestBaseVFS_DeleteOnClose(t *testing.T) {
	base := newTestBase(t)
	f, _, err := base.Open("scratch", OpenTempDB|OpenReadWrite|OpenCreate|OpenDeleteOnClose)
	require.NoError(t, err)
	ok, err := base.Access("scratch", AccessExists)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, f.Close())
	ok, err = base.Access("scratch", AccessExists)
	require.NoError(t, err)
	assert.False(t, ok)

	anon, _, err := base.Open("", OpenTempJournal|OpenReadWrite|OpenCreate)
	require.NoError(t, err)
	require.NoError(t, anon.Close())
	entries, err := os.ReadDir(filepath.Join(base.FileSystem().(*DirFS).Root(), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries, "anonymous files are removed on close")
}

func TestBaseVFS_Access(t *testing.T) {
	base := newTestBase(t)
	root := base.FileSystem().(*DirFS).Root()
	require.NoError(t, os.WriteFile(filepath.Join(root, "rw.db"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ro.db"), []byte("x"), 0444))

	tests := []struct {
		name  string
		file  string
		flags AccessFlag
		want  bool
	}{
		{"exists", "rw.db", AccessExists, true},
		{"missing", "nope.db", AccessExists, false},
		{"read", "ro.db", AccessRead, true},
		{"read write", "rw.db", AccessReadWrite, true},
		{"read only file", "ro.db", AccessReadWrite, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := base.Access(tt.file, tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBaseVFS_FullPathname(t *testing.T) {
	base := newTestBase(t)
	tests := []struct {
		in   string
		want string
	}{
		{"app.db", "/app.db"},
		{"/a/b/../c.db", "/a/c.db"},
		{"./x/y.db", "/x/y.db"},
	}
	for _, tt := range tests {
		got, err := base.FullPathname(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := base.FullPathname("")
	assert.True(t, IsValidationError(err))

	require.NoError(t, base.FileSystem().MkdirAll("/data", 0755))
	require.NoError(t, base.FileSystem().Chdir("/data"))
	got, err := base.FullPathname("app.db")
	require.NoError(t, err)
	assert.Equal(t, "/data/app.db", got)
}

func TestBaseVFS_Time(t *testing.T) {
	base := newTestBase(t)
	ms, err := base.CurrentTimeInt64()
	require.NoError(t, err)
	day, err := base.CurrentTime()
	require.NoError(t, err)

	// 2024-01-01 is Julian day 2460310.5
	assert.Greater(t, day, 2460310.5)
	assert.InDelta(t, float64(ms)/86400000.0, day, 0.001)

	slept := base.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, slept, 2*time.Millisecond)

	p := make([]byte, 32)
	assert.Equal(t, 32, base.Randomness(p))
	assert.NotEqual(t, make([]byte, 32), p)
}

func TestBaseVFS_Dl(t *testing.T) {
	base := newTestBase(t)
	_, err := base.DlOpen("libx.so")
	assert.ErrorIs(t, err, ErrNotSupported)
	_, err = base.DlSym(0, "sym")
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.ErrorIs(t, base.DlClose(0), ErrNotSupported)
	assert.NotEmpty(t, base.DlError())
}

func TestBaseVFS_SystemCalls(t *testing.T) {
	base := newTestBase(t)

	var names []string
	for name := base.NextSystemCall(""); name != ""; name = base.NextSystemCall(name) {
		names = append(names, name)
	}
	assert.Equal(t, systemCalls, names)
	assert.Equal(t, "open", base.NextSystemCall("fsync"), "unknown names continue in order")

	assert.ErrorIs(t, base.SetSystemCall("mmap", 1), ErrUnknownSystemCall)
	require.NoError(t, base.SetSystemCall("read", 7))
	require.NoError(t, base.SetSystemCall("write", 8))
	assert.Equal(t, uintptr(7), base.GetSystemCall("read"))

	require.NoError(t, base.SetSystemCall("read", 0))
	assert.Zero(t, base.GetSystemCall("read"))
	require.NoError(t, base.SetSystemCall("", 0))
	assert.Zero(t, base.GetSystemCall("write"))
}

func TestBaseVFS_Locks(t *testing.T) {
	base := newTestBase(t)
	open := func() File {
		f, _, err := base.Open("app.db", OpenMainDB|OpenReadWrite|OpenCreate)
		require.NoError(t, err)
		t.Cleanup(func() { _ = f.Close() })
		return f
	}
	f1, f2, f3 := open(), open(), open()

	assert.True(t, IsValidationError(f1.Lock(LockReserved)), "reserved needs shared")
	require.NoError(t, f1.Lock(LockShared))
	require.NoError(t, f2.Lock(LockShared))

	require.NoError(t, f1.Lock(LockReserved))
	assert.ErrorIs(t, f2.Lock(LockReserved), ErrBusy)
	held, err := f2.CheckReservedLock()
	require.NoError(t, err)
	assert.True(t, held)

	assert.ErrorIs(t, f1.Lock(LockExclusive), ErrBusy, "another reader is active")
	assert.ErrorIs(t, f3.Lock(LockShared), ErrBusy, "pending blocks new readers")
	require.NoError(t, f2.Unlock(LockNone))
	require.NoError(t, f1.Lock(LockExclusive))

	assert.True(t, IsValidationError(f1.Unlock(LockReserved)))
	require.NoError(t, f1.Unlock(LockShared))
	require.NoError(t, f3.Lock(LockShared))
	held, err = f3.CheckReservedLock()
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, f1.Close())
	require.NoError(t, f3.Lock(LockReserved), "closing releases every lock")
	assert.Equal(t, ResultBusy, ResultCode(ErrBusy))
}
