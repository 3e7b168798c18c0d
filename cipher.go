package cryptosqlite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// DataCipher is the cipher capability the crypto engine consumes. Pages are
// transformed in fixed-size buffers: the last ExtraSize bytes of every page
// are reserved for the nonce and authentication tag.
type DataCipher interface {
	// Suite identifies the algorithm
	Suite() CipherSuite

	// KeySize returns the data key length in bytes
	KeySize() int

	// GenerateKey fills out with a fresh random data key
	GenerateKey(out []byte) error

	// WrapKey seals key under wrappingKey
	WrapKey(key, wrappingKey []byte) ([]byte, error)

	// UnwrapKey opens wrapped under wrappingKey into out
	UnwrapKey(out, wrapped, wrappingKey []byte) error

	// Encrypt transforms the page in into out (same length) at the given
	// page position. It fails with ErrReservedBytes unless the reserved tail
	// of in is zero.
	Encrypt(pageNo uint64, in, out, key []byte) error

	// Decrypt is the inverse of Encrypt. The reserved tail of out is zeroed.
	Decrypt(pageNo uint64, in, out, key []byte) error

	// ExtraSize returns the per-page overhead in bytes
	ExtraSize() int
}

// keyWrapAD binds wrapped keys to their purpose
var keyWrapAD = []byte("cryptosqlite/keywrap/v1")

// aeadCipher implements DataCipher on top of an AEAD constructor
type aeadCipher struct {
	suite     CipherSuite
	newAEAD   func(key []byte) (cipher.AEAD, error)
	nonceSize int
	// positionSize is how many leading nonce bytes carry the page position
	positionSize int
}

// NewDataCipher returns the DataCipher for the given suite
func NewDataCipher(suite CipherSuite) (DataCipher, error) {
	switch suite {
	case CipherAES256GCM:
		return &aeadCipher{
			suite:        suite,
			newAEAD:      newAESGCM,
			nonceSize:    12,
			positionSize: 4,
		}, nil
	case CipherChaCha20Poly1305:
		return &aeadCipher{
			suite:        suite,
			newAEAD:      chacha20poly1305.New,
			nonceSize:    chacha20poly1305.NonceSize,
			positionSize: 4,
		}, nil
	case CipherXChaCha20Poly1305, CipherAuto:
		return &aeadCipher{
			suite:        CipherXChaCha20Poly1305,
			newAEAD:      chacha20poly1305.NewX,
			nonceSize:    chacha20poly1305.NonceSizeX,
			positionSize: 8,
		}, nil
	default:
		return nil, ErrUnsupportedCipher
	}
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("AES-256 requires a 32-byte key, got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (c *aeadCipher) Suite() CipherSuite {
	return c.suite
}

func (c *aeadCipher) KeySize() int {
	return 32
}

// ExtraSize returns nonce plus tag size
func (c *aeadCipher) ExtraSize() int {
	return c.nonceSize + chacha20poly1305.Overhead
}

func (c *aeadCipher) GenerateKey(out []byte) error {
	if err := ValidateKey(out, c.KeySize()); err != nil {
		return err
	}
	if _, err := rand.Read(out); err != nil {
		return fmt.Errorf("failed to generate data key: %w", err)
	}
	return nil
}

// WrapKey returns nonce || sealed key
func (c *aeadCipher) WrapKey(key, wrappingKey []byte) ([]byte, error) {
	if err := ValidateKey(key, c.KeySize()); err != nil {
		return nil, err
	}
	aead, err := c.newAEAD(wrappingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create wrapping cipher: %w", err)
	}
	out := make([]byte, c.nonceSize, c.nonceSize+len(key)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(out, out[:c.nonceSize], key, keyWrapAD), nil
}

func (c *aeadCipher) UnwrapKey(out, wrapped, wrappingKey []byte) error {
	if err := ValidateKey(out, c.KeySize()); err != nil {
		return err
	}
	aead, err := c.newAEAD(wrappingKey)
	if err != nil {
		return fmt.Errorf("failed to create wrapping cipher: %w", err)
	}
	if len(wrapped) != c.nonceSize+c.KeySize()+aead.Overhead() {
		return ErrAuthFailed
	}
	// Open into out directly so the plaintext key never lands elsewhere
	if _, err := aead.Open(out[:0], wrapped[:c.nonceSize], wrapped[c.nonceSize:], keyWrapAD); err != nil {
		clear(out)
		return ErrAuthFailed
	}
	return nil
}

// pagePosition encodes the page position used as associated data
func pagePosition(pageNo uint64) []byte {
	var ad [8]byte
	binary.BigEndian.PutUint64(ad[:], pageNo)
	return ad[:]
}

// Encrypt lays out ciphertext | tag | nonce within len(in) bytes. The last
// ExtraSize bytes of in are reserved and must be zero.
func (c *aeadCipher) Encrypt(pageNo uint64, in, out, key []byte) error {
	if err := c.checkPage(in, out); err != nil {
		return err
	}
	aead, err := c.newAEAD(key)
	if err != nil {
		return fmt.Errorf("failed to create page cipher: %w", err)
	}

	body := len(in) - c.ExtraSize()
	if !allZero(in[body:]) {
		return ErrReservedBytes
	}
	nonce := make([]byte, c.nonceSize)
	ad := pagePosition(pageNo)
	copy(nonce, ad[8-c.positionSize:])
	if _, err := rand.Read(nonce[c.positionSize:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead.Seal(out[:0], nonce, in[:body], ad)
	copy(out[body+aead.Overhead():], nonce)
	return nil
}

func (c *aeadCipher) Decrypt(pageNo uint64, in, out, key []byte) error {
	if err := c.checkPage(in, out); err != nil {
		return err
	}
	aead, err := c.newAEAD(key)
	if err != nil {
		return fmt.Errorf("failed to create page cipher: %w", err)
	}

	sealed := len(in) - c.nonceSize
	nonce := make([]byte, c.nonceSize)
	copy(nonce, in[sealed:])
	if _, err := aead.Open(out[:0], nonce, in[:sealed], pagePosition(pageNo)); err != nil {
		return ErrAuthFailed
	}
	clear(out[len(in)-c.ExtraSize() : len(in)])
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (c *aeadCipher) checkPage(in, out []byte) error {
	if in == nil || out == nil {
		return ErrNilBuffer
	}
	if len(in) <= c.ExtraSize() {
		return NewValidationError("page", len(in),
			fmt.Sprintf("page of %d bytes cannot hold %d reserved bytes", len(in), c.ExtraSize()))
	}
	if len(out) < len(in) {
		return NewValidationError("out", len(out), "output buffer smaller than page")
	}
	return nil
}
