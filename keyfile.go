package cryptosqlite

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/absfs/absfs"
)

// Keyfile layout (little-endian):
//
//	uint32 wrappedKeySize | wrappedKey | uint32 firstPageSize | firstPage
//
// firstPageSize is 0 until page 1 has been written. A record that ends right
// after the wrapped key is accepted as having no first page.

// maxKeyfileSection bounds a single section so a damaged size field cannot
// trigger a huge allocation (largest page is 64 KiB)
const maxKeyfileSection = 1 << 20

// keyfileRecord is the decoded content of a keyfile
type keyfileRecord struct {
	WrappedKey []byte
	FirstPage  []byte
}

// encodedSize returns the number of bytes encodeTo writes
func (r *keyfileRecord) encodedSize() int {
	return 4 + len(r.WrappedKey) + 4 + len(r.FirstPage)
}

// encodeTo serializes the record into dst, which must be encodedSize long
func (r *keyfileRecord) encodeTo(dst []byte) {
	off := 0
	binary.LittleEndian.PutUint32(dst[off:], uint32(len(r.WrappedKey)))
	off += 4
	off += copy(dst[off:], r.WrappedKey)
	binary.LittleEndian.PutUint32(dst[off:], uint32(len(r.FirstPage)))
	off += 4
	copy(dst[off:], r.FirstPage)
}

// decodeKeyfile parses src. The returned record copies out of src so the
// caller can wipe it.
func decodeKeyfile(src []byte) (*keyfileRecord, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("failed to read key size: %w", io.ErrUnexpectedEOF)
	}
	keySize := binary.LittleEndian.Uint32(src)
	src = src[4:]
	if keySize > maxKeyfileSection || uint64(len(src)) < uint64(keySize) {
		return nil, fmt.Errorf("failed to read key data: %w", io.ErrUnexpectedEOF)
	}
	rec := &keyfileRecord{WrappedKey: append([]byte(nil), src[:keySize]...)}
	src = src[keySize:]

	if len(src) == 0 {
		return rec, nil
	}
	if len(src) < 4 {
		return nil, fmt.Errorf("failed to read page size: %w", io.ErrUnexpectedEOF)
	}
	pageSize := binary.LittleEndian.Uint32(src)
	src = src[4:]
	if pageSize > maxKeyfileSection || uint64(len(src)) < uint64(pageSize) {
		return nil, fmt.Errorf("failed to read page data: %w", io.ErrUnexpectedEOF)
	}
	if pageSize > 0 {
		rec.FirstPage = append([]byte(nil), src[:pageSize]...)
	}
	return rec, nil
}

// writeKeyfile persists rec at path. The record is assembled in a secure
// buffer, written to a temporary file, synced and renamed into place.
func writeKeyfile(fs absfs.FileSystem, path string, rec *keyfileRecord) (err error) {
	buf := newSecureBuffer(rec.encodedSize())
	defer buf.Release()
	rec.encodeTo(buf.Bytes())

	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return NewIOError("open", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp)
		}
	}()

	if _, err = f.Write(buf.Bytes()); err != nil {
		f.Close()
		return NewIOError("write", tmp, err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return NewIOError("sync", tmp, err)
	}
	if err = f.Close(); err != nil {
		return NewIOError("close", tmp, err)
	}
	if err = fs.Rename(tmp, path); err != nil {
		return NewIOError("rename", path, err)
	}
	return nil
}

// readKeyfile loads the record at path through a secure buffer
func readKeyfile(fs absfs.FileSystem, path string) (*keyfileRecord, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, NewIOError("open", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, NewIOError("stat", path, err)
	}
	if info.Size() > 2*maxKeyfileSection+8 {
		return nil, NewIOError("read", path, errors.New("keyfile too large"))
	}

	buf := newSecureBuffer(int(info.Size()))
	defer buf.Release()

	if _, err := io.ReadFull(f, buf.Bytes()); err != nil {
		return nil, NewIOError("read", path, err)
	}
	rec, err := decodeKeyfile(buf.Bytes())
	if err != nil {
		return nil, NewIOError("read", path, err)
	}
	return rec, nil
}

// keyfileExists reports whether a keyfile is present at path
func keyfileExists(fs absfs.FileSystem, path string) (bool, error) {
	_, err := fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, NewIOError("stat", path, err)
}
