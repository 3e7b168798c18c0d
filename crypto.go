package cryptosqlite

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/absfs/absfs"
	"github.com/awnumar/memguard"
)

// minPageBuffer is the buffer floor, also the size of the header image of a
// database that has never been written
const minPageBuffer = 512

// PageCrypto owns one database's data key and transforms its pages.
//
// A PageCrypto is not safe for concurrent use. CryptFile serializes access
// with Lock/Unlock, and a journal sharing the engine with its database takes
// the same lock.
type PageCrypto struct {
	mu sync.Mutex

	fs          absfs.FileSystem
	keyfilePath string
	cipher      DataCipher
	kdf         KDFParams
	logger      *slog.Logger

	key        *memguard.LockedBuffer // data key, never persisted in clear
	wrappedKey []byte                 // marshaled keyEnvelope
	firstPage  []byte                 // page 1 ciphertext, empty until written

	in  []byte
	out []byte

	pageSize int
}

// NewPageCrypto creates the engine for the database at dbPath.
//
// When exists is false a fresh data key is generated, wrapped under a key
// derived from externalKey and written to the keyfile. When exists is true
// the keyfile is read and unwrapped; a missing or truncated keyfile yields an
// IOError and a wrong key yields an AuthenticationError.
func NewPageCrypto(fs absfs.FileSystem, dbPath string, externalKey []byte, exists bool, config *Config) (*PageCrypto, error) {
	if fs == nil {
		return nil, NewConfigError("keyfile_fs", "filesystem cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(externalKey) == 0 {
		return nil, NewValidationError("key", 0, "external key cannot be empty")
	}

	c := &PageCrypto{
		fs:          fs,
		keyfilePath: dbPath + config.KeyfileSuffix,
		kdf:         config.KDF,
		logger:      config.Logger,
	}

	if !exists {
		if err := c.create(config.Cipher, externalKey); err != nil {
			return nil, err
		}
	} else if err := c.load(externalKey); err != nil {
		return nil, err
	}

	c.ResizePageBuffers(minPageBuffer)
	return c, nil
}

// create generates and persists a new data key
func (c *PageCrypto) create(suite CipherSuite, externalKey []byte) error {
	dc, err := NewDataCipher(suite)
	if err != nil {
		return err
	}
	c.cipher = dc

	key := memguard.NewBuffer(dc.KeySize())
	if err := dc.GenerateKey(key.Bytes()); err != nil {
		key.Destroy()
		return err
	}
	key.Freeze()
	c.key = key

	if err := c.wrapKey(externalKey); err != nil {
		c.Close()
		return err
	}
	if err := c.writeKeyFile(); err != nil {
		c.Close()
		return err
	}
	return nil
}

// load reads the keyfile and unwraps the data key
func (c *PageCrypto) load(externalKey []byte) error {
	if err := c.readKeyFile(); err != nil {
		return err
	}
	if err := c.unwrapKey(externalKey); err != nil {
		c.Close()
		return err
	}
	return nil
}

// wrapKey wraps the data key under externalKey with a fresh salt
func (c *PageCrypto) wrapKey(externalKey []byte) error {
	salt, err := generateSalt(c.kdf.SaltSize)
	if err != nil {
		return err
	}
	derived, err := deriveWrappingKey(externalKey, salt, c.kdf)
	if err != nil {
		return NewValidationError("kdf", c.kdf.Algorithm.String(), err.Error())
	}
	wrappingKey := secureCopy(derived)
	defer wrappingKey.Release()

	wrapped, err := c.cipher.WrapKey(c.key.Bytes(), wrappingKey.Bytes())
	if err != nil {
		return NewEncryptionError("wrap", c.keyfilePath, 0, err)
	}
	env, err := newKeyEnvelope(c.cipher.Suite(), c.kdf, salt, wrapped).MarshalBinary()
	if err != nil {
		return err
	}
	c.wrappedKey = env
	return nil
}

// unwrapKey recovers the data key from the wrapped envelope
func (c *PageCrypto) unwrapKey(externalKey []byte) error {
	var env keyEnvelope
	if err := env.UnmarshalBinary(c.wrappedKey); err != nil {
		return NewAuthenticationError(c.keyfilePath, err)
	}
	dc, err := NewDataCipher(env.Cipher)
	if err != nil {
		return NewAuthenticationError(c.keyfilePath, err)
	}

	derived, err := deriveWrappingKey(externalKey, env.Salt, env.kdfParams())
	if err != nil {
		return NewAuthenticationError(c.keyfilePath, err)
	}
	wrappingKey := secureCopy(derived)
	defer wrappingKey.Release()

	key := memguard.NewBuffer(dc.KeySize())
	if err := dc.UnwrapKey(key.Bytes(), env.Wrapped, wrappingKey.Bytes()); err != nil {
		key.Destroy()
		return NewAuthenticationError(c.keyfilePath, err)
	}
	key.Freeze()

	c.cipher = dc
	c.key = key
	return nil
}

// writeKeyFile persists the wrapped key and the page-1 cache together
func (c *PageCrypto) writeKeyFile() error {
	rec := &keyfileRecord{WrappedKey: c.wrappedKey, FirstPage: c.firstPage}
	if err := writeKeyfile(c.fs, c.keyfilePath, rec); err != nil {
		c.logger.Error("keyfile write failed", "path", c.keyfilePath, "error", err)
		return err
	}
	return nil
}

// readKeyFile loads the wrapped key and the page-1 cache
func (c *PageCrypto) readKeyFile() error {
	rec, err := readKeyfile(c.fs, c.keyfilePath)
	if err != nil {
		c.logger.Error("keyfile read failed", "path", c.keyfilePath, "error", err)
		return err
	}
	c.wrappedKey = rec.WrappedKey
	c.firstPage = rec.FirstPage
	c.pageSize = len(rec.FirstPage)
	return nil
}

// Rekey wraps the existing data key under newKey and rewrites the keyfile.
// Page ciphertext is unaffected.
func (c *PageCrypto) Rekey(newKey []byte) error {
	if len(newKey) == 0 {
		return NewValidationError("key", 0, "external key cannot be empty")
	}
	if c.key == nil {
		return ErrClosed
	}
	previous := c.wrappedKey
	if err := c.wrapKey(newKey); err != nil {
		return err
	}
	if err := c.writeKeyFile(); err != nil {
		c.wrappedKey = previous
		return err
	}
	c.logger.Info("database rekeyed", "keyfile", c.keyfilePath)
	return nil
}

// EncryptPage encrypts page as page number pageNo.
//
// The returned slice aliases the engine's output buffer and is only valid
// until the next call on this engine; consume or copy it immediately.
// Encrypting page 1 also updates the page-1 cache and rewrites the keyfile.
func (c *PageCrypto) EncryptPage(page []byte, pageNo uint64) ([]byte, error) {
	if c.key == nil {
		return nil, ErrClosed
	}
	if err := ValidateBuffer(page, "page", c.ExtraSize()+1); err != nil {
		return nil, err
	}
	n := len(page)
	c.ensureBuffers(n)

	copy(c.in, page)
	if err := c.cipher.Encrypt(pageNo, c.in[:n], c.out[:n], c.key.Bytes()); err != nil {
		return nil, NewEncryptionError("encrypt", "", pageNo, err)
	}

	if pageNo == 1 {
		previous := c.firstPage
		c.firstPage = append([]byte(nil), c.out[:n]...)
		if err := c.writeKeyFile(); err != nil {
			c.firstPage = previous
			return nil, err
		}
	}
	return c.out[:n], nil
}

// DecryptPage decrypts pageSize bytes of page in place as page number pageNo.
// With a nil page only the internal buffers are primed: the input buffer is
// decrypted into the output buffer.
func (c *PageCrypto) DecryptPage(page []byte, pageSize int, pageNo uint64) error {
	if c.key == nil {
		return ErrClosed
	}
	if page != nil {
		if err := ValidateBuffer(page, "page", pageSize); err != nil {
			return err
		}
		c.ensureBuffers(pageSize)
		copy(c.in, page[:pageSize])
	} else if pageSize > len(c.in) {
		return NewValidationError("page_size", pageSize, "larger than primed buffer")
	}

	if err := c.cipher.Decrypt(pageNo, c.in[:pageSize], c.out[:pageSize], c.key.Bytes()); err != nil {
		return &AuthenticationError{
			Path:    c.keyfilePath,
			Message: fmt.Sprintf("page %d failed authentication", pageNo),
			Err:     err,
		}
	}
	if page != nil {
		copy(page, c.out[:pageSize])
	}
	return nil
}

// DecryptFirstPageCache decrypts the cached page 1 into the output buffer.
// Without a cache (no page ever written) the buffer is left zero-filled at
// the 512-byte floor.
func (c *PageCrypto) DecryptFirstPageCache() error {
	if c.key == nil {
		return ErrClosed
	}
	size := max(len(c.firstPage), minPageBuffer)
	c.ResizePageBuffers(size)
	if len(c.firstPage) == 0 {
		return nil
	}
	copy(c.in, c.firstPage)
	return c.DecryptPage(nil, len(c.firstPage), 1)
}

// FirstPage returns the decrypted page-1 image produced by
// DecryptFirstPageCache. Like EncryptPage's result it aliases engine memory.
func (c *PageCrypto) FirstPage() []byte {
	return c.out[:max(len(c.firstPage), minPageBuffer)]
}

// HasFirstPage reports whether page 1 has ever been written
func (c *PageCrypto) HasFirstPage() bool {
	return len(c.firstPage) > 0
}

// ResetFirstPage drops the page-1 cache and rewrites the keyfile, used when
// the database is truncated to zero
func (c *PageCrypto) ResetFirstPage() error {
	if len(c.firstPage) == 0 {
		return nil
	}
	previous := c.firstPage
	c.firstPage = nil
	if err := c.writeKeyFile(); err != nil {
		c.firstPage = previous
		return err
	}
	return nil
}

// ResizePageBuffers wipes both page buffers and reallocates them to exactly
// size zero bytes
func (c *PageCrypto) ResizePageBuffers(size int) {
	memguard.WipeBytes(c.in)
	memguard.WipeBytes(c.out)
	c.in = make([]byte, size)
	c.out = make([]byte, size)
}

// ensureBuffers grows the buffers when a page is larger than them
func (c *PageCrypto) ensureBuffers(n int) {
	if n > len(c.in) {
		c.ResizePageBuffers(max(n, minPageBuffer))
	}
}

// ExtraSize returns the number of reserved bytes at the end of every page
func (c *PageCrypto) ExtraSize() int {
	return c.cipher.ExtraSize()
}

// Cipher returns the suite protecting this database
func (c *PageCrypto) Cipher() CipherSuite {
	return c.cipher.Suite()
}

// KeyfilePath returns the path of the keyfile
func (c *PageCrypto) KeyfilePath() string {
	return c.keyfilePath
}

// PageSize returns the page size learned from I/O, 0 if unknown
func (c *PageCrypto) PageSize() int {
	return c.pageSize
}

// SetPageSize records the database page size
func (c *PageCrypto) SetPageSize(size int) {
	c.pageSize = size
}

// Lock acquires exclusive use of the engine and its buffers
func (c *PageCrypto) Lock() { c.mu.Lock() }

// Unlock releases the engine
func (c *PageCrypto) Unlock() { c.mu.Unlock() }

// Close destroys the data key and wipes the page buffers and cache
func (c *PageCrypto) Close() {
	if c.key != nil {
		c.key.Destroy()
		c.key = nil
	}
	memguard.WipeBytes(c.in)
	memguard.WipeBytes(c.out)
	memguard.WipeBytes(c.firstPage)
	c.in, c.out, c.firstPage = nil, nil, nil
}
