package cryptosqlite

import (
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/absfs/absfs"
)

// DirFS is an absfs.FileSystem rooted at a directory of the host OS.
// Paths are slash-separated and interpreted relative to the root, so
// "/app.db" names root/app.db.
type DirFS struct {
	root string
	cwd  string
}

// NewDirFS returns a filesystem rooted at root, creating it if needed
func NewDirFS(root string) (*DirFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &DirFS{root: abs, cwd: "/"}, nil
}

// Root returns the host directory backing the filesystem
func (fs *DirFS) Root() string {
	return fs.root
}

func (fs *DirFS) hostPath(name string) string {
	if !path.IsAbs(name) {
		name = path.Join(fs.cwd, name)
	}
	return filepath.Join(fs.root, filepath.FromSlash(path.Clean(name)))
}

func (fs *DirFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return os.OpenFile(fs.hostPath(name), flag, perm)
}

func (fs *DirFS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(fs.hostPath(name), perm)
}

func (fs *DirFS) MkdirAll(name string, perm os.FileMode) error {
	return os.MkdirAll(fs.hostPath(name), perm)
}

func (fs *DirFS) Remove(name string) error {
	return os.Remove(fs.hostPath(name))
}

func (fs *DirFS) RemoveAll(name string) error {
	return os.RemoveAll(fs.hostPath(name))
}

func (fs *DirFS) Rename(oldpath, newpath string) error {
	return os.Rename(fs.hostPath(oldpath), fs.hostPath(newpath))
}

func (fs *DirFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(fs.hostPath(name))
}

func (fs *DirFS) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(fs.hostPath(name), mode)
}

func (fs *DirFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(fs.hostPath(name), atime, mtime)
}

func (fs *DirFS) Chown(name string, uid, gid int) error {
	return os.Chown(fs.hostPath(name), uid, gid)
}

func (fs *DirFS) Separator() uint8 {
	return '/'
}

func (fs *DirFS) ListSeparator() uint8 {
	return os.PathListSeparator
}

func (fs *DirFS) Chdir(dir string) error {
	if !path.IsAbs(dir) {
		dir = path.Join(fs.cwd, dir)
	}
	info, err := os.Stat(fs.hostPath(dir))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "chdir", Path: dir, Err: os.ErrInvalid}
	}
	fs.cwd = path.Clean(dir)
	return nil
}

func (fs *DirFS) Getwd() (string, error) {
	return fs.cwd, nil
}

func (fs *DirFS) TempDir() string {
	return "/tmp"
}

func (fs *DirFS) Open(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *DirFS) Create(name string) (absfs.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *DirFS) Truncate(name string, size int64) error {
	return os.Truncate(fs.hostPath(name), size)
}

var _ absfs.FileSystem = (*DirFS)(nil)
