package cryptosqlite

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/awnumar/memguard"
)

// CryptFile is one file opened through CryptVFS. Main databases own their
// PageCrypto; journals and WAL files borrow the engine of their database;
// other files have no engine and pass every call through.
type CryptFile struct {
	vfs    *CryptVFS
	base   File
	path   string
	role   fileRole
	engine *PageCrypto
	owner  bool

	closeOnce sync.Once
	closeErr  error
}

// Path returns the full path of the file
func (f *CryptFile) Path() string {
	return f.path
}

// Encrypted reports whether page I/O is transformed
func (f *CryptFile) Encrypted() bool {
	return f.engine != nil
}

// Engine returns the crypto engine, nil for pass-through files
func (f *CryptFile) Engine() *PageCrypto {
	return f.engine
}

// Underlying returns the file of the underlying VFS
func (f *CryptFile) Underlying() File {
	return f.base
}

// ReadAt reads plaintext. Main database pages are read whole and decrypted;
// a read past the end of the file zero-fills p and returns io.EOF.
func (f *CryptFile) ReadAt(p []byte, off int64) (int, error) {
	if f.engine == nil {
		return f.base.ReadAt(p, off)
	}
	if err := ValidateReadWrite(p, off); err != nil {
		return 0, err
	}
	f.engine.Lock()
	defer f.engine.Unlock()

	if f.role == roleMainDB {
		return f.readMain(p, off)
	}
	return f.readAuxiliary(p, off)
}

func (f *CryptFile) readMain(p []byte, off int64) (int, error) {
	pageSize := f.engine.PageSize()
	probe := pageSize == 0 || (off == 0 && len(p) < pageSize)
	if probe && f.engine.HasFirstPage() {
		return f.readHeader(p, off)
	}
	if pageSize == 0 {
		// Nothing has been written yet
		n, err := f.base.ReadAt(p, off)
		if n > 0 {
			clear(p)
			return 0, NewCorruptionError(f.path, 0, "database holds data but its page size is unknown")
		}
		return n, err
	}
	return f.readPages(p, off, pageSize)
}

// readHeader serves a header probe from the page-1 cache
func (f *CryptFile) readHeader(p []byte, off int64) (int, error) {
	if err := f.engine.DecryptFirstPageCache(); err != nil {
		return 0, err
	}
	page := f.engine.FirstPage()
	if off >= int64(len(page)) {
		clear(p)
		return 0, io.EOF
	}
	n := copy(p, page[off:])
	if n < len(p) {
		clear(p[n:])
		return n, io.EOF
	}
	return n, nil
}

// readPages reads every page overlapping [off, off+len(p)) and copies out the
// requested plaintext
func (f *CryptFile) readPages(p []byte, off int64, pageSize int) (int, error) {
	var scratch []byte
	defer func() { memguard.WipeBytes(scratch) }()

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		inPage := int(pos % int64(pageSize))
		start := pos - int64(inPage)
		pageNo := uint64(start/int64(pageSize)) + 1
		want := min(len(p)-n, pageSize-inPage)

		buf := p[n : n+want]
		partial := inPage != 0 || want != pageSize
		if partial {
			if scratch == nil {
				scratch = make([]byte, pageSize)
			}
			buf = scratch
		}

		m, err := f.base.ReadAt(buf, start)
		if m == 0 && (err == nil || errors.Is(err, io.EOF)) {
			clear(p[n:])
			return n, io.EOF
		}
		if err != nil && !errors.Is(err, io.EOF) {
			clear(p[n:])
			return n, &IOError{Operation: "read", Path: f.path, Offset: start, Message: err.Error(), Err: err}
		}
		if m < pageSize {
			clear(p[n:])
			return n, NewCorruptionError(f.path, pageNo, "short read inside page")
		}
		if err := f.engine.DecryptPage(buf, pageSize, pageNo); err != nil {
			clear(p[n:])
			return n, err
		}
		if partial {
			copy(p[n:n+want], scratch[inPage:inPage+want])
		}
		n += want
	}
	return n, nil
}

// readAuxiliary decrypts page images in journals and WAL files
func (f *CryptFile) readAuxiliary(p []byte, off int64) (int, error) {
	n, err := f.base.ReadAt(p, off)
	if n < len(p) {
		return n, err
	}
	pageSize := f.engine.PageSize()
	if pageSize == 0 || off == 0 {
		return n, err
	}

	var page []byte
	var pos int64
	switch {
	case len(p) == pageSize:
		page, pos = p, off
	case f.role == roleWAL && len(p) == pageSize+walFrameHeaderSize:
		page, pos = p[walFrameHeaderSize:], off+walFrameHeaderSize
	default:
		return n, err
	}
	if bytes.HasPrefix(page, journalMagic) && f.role == roleMainJournal {
		return n, err
	}
	if derr := f.engine.DecryptPage(page, pageSize, auxPosition(pos)); derr != nil {
		return 0, derr
	}
	return n, err
}

// WriteAt encrypts p before writing it. Main database writes must cover
// exactly one page; the first write at offset 0 fixes the page size.
func (f *CryptFile) WriteAt(p []byte, off int64) (int, error) {
	if f.engine == nil {
		return f.base.WriteAt(p, off)
	}
	if err := ValidateReadWrite(p, off); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	f.engine.Lock()
	defer f.engine.Unlock()

	if f.role == roleMainDB {
		return f.writeMain(p, off)
	}
	return f.writeAuxiliary(p, off)
}

func (f *CryptFile) writeMain(p []byte, off int64) (int, error) {
	pageSize := f.engine.PageSize()
	if off == 0 && len(p) != pageSize {
		if err := ValidatePageSize(len(p), f.engine.ExtraSize()); err != nil {
			return 0, NewEncryptionError("write", f.path, 1, err)
		}
		if pageSize != 0 {
			f.vfs.logger.Info("page size changed", "path", f.path, "from", pageSize, "to", len(p))
		}
		pageSize = len(p)
		f.engine.SetPageSize(pageSize)
	}
	if pageSize == 0 {
		return 0, NewEncryptionError("write", f.path, 0, ErrPageSizeUnknown)
	}
	if len(p) != pageSize || off%int64(pageSize) != 0 {
		return 0, NewEncryptionError("write", f.path, uint64(off/int64(pageSize))+1, ErrPartialPage)
	}

	pageNo := uint64(off/int64(pageSize)) + 1
	ct, err := f.engine.EncryptPage(p, pageNo)
	if err != nil {
		return 0, err
	}
	return f.base.WriteAt(ct, off)
}

// writeAuxiliary encrypts page images in journals and WAL files. Headers,
// page numbers and checksums are written as is.
func (f *CryptFile) writeAuxiliary(p []byte, off int64) (int, error) {
	pageSize := f.engine.PageSize()
	if pageSize == 0 || off == 0 || len(p) != pageSize {
		return f.base.WriteAt(p, off)
	}
	if f.role == roleMainJournal && bytes.HasPrefix(p, journalMagic) {
		return f.base.WriteAt(p, off)
	}
	ct, err := f.engine.EncryptPage(p, auxPosition(off))
	if err != nil {
		return 0, err
	}
	return f.base.WriteAt(ct, off)
}

// Truncate resizes the file. Truncating a main database to zero also drops
// the page-1 cache from the keyfile.
func (f *CryptFile) Truncate(size int64) error {
	if f.engine == nil || f.role != roleMainDB {
		return f.base.Truncate(size)
	}
	f.engine.Lock()
	defer f.engine.Unlock()
	if err := f.base.Truncate(size); err != nil {
		return err
	}
	if size == 0 {
		return f.engine.ResetFirstPage()
	}
	return nil
}

func (f *CryptFile) Sync() error {
	return f.base.Sync()
}

func (f *CryptFile) Size() (int64, error) {
	return f.base.Size()
}

func (f *CryptFile) Lock(level LockLevel) error {
	return f.base.Lock(level)
}

func (f *CryptFile) Unlock(level LockLevel) error {
	return f.base.Unlock(level)
}

func (f *CryptFile) CheckReservedLock() (bool, error) {
	return f.base.CheckReservedLock()
}

func (f *CryptFile) SectorSize() int {
	return f.base.SectorSize()
}

func (f *CryptFile) DeviceCharacteristics() DeviceCharacteristic {
	return f.base.DeviceCharacteristics()
}

// Close closes the underlying file. A main database also leaves the registry
// and wipes its engine.
func (f *CryptFile) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.base.Close()
		if !f.owner {
			return
		}
		f.vfs.RemoveDatabase(f)
		f.engine.Lock()
		f.engine.Close()
		f.engine.Unlock()
		f.vfs.logger.Info("closed", "path", f.path)
	})
	return f.closeErr
}
