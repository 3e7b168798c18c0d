package cryptosqlite

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// EnvelopeMagic identifies a wrapped data key (ASCII: "CSKW")
	EnvelopeMagic = uint32(0x43534B57)

	// EnvelopeVersion is the current envelope format version
	EnvelopeVersion = uint8(1)

	// minEnvelopeSize covers the fixed fields:
	// 4 (magic) + 1 (version) + 1 (cipher) + 1 (kdf) + 1 (hash) +
	// 4 (iterations) + 4 (memory) + 1 (parallelism) + 2 (salt size) = 19 bytes
	minEnvelopeSize = 19
)

// keyEnvelope is the wrapped data key as stored in the keyfile. It records
// the cipher and KDF parameters so a database is always reopened with the
// settings it was created with.
type keyEnvelope struct {
	Magic       uint32
	Version     uint8
	Cipher      CipherSuite
	KDF         KDF
	HashFunc    HashFunc
	Iterations  uint32
	Memory      uint32
	Parallelism uint8
	Salt        []byte
	Wrapped     []byte // DataCipher.WrapKey output
}

func newKeyEnvelope(suite CipherSuite, params KDFParams, salt, wrapped []byte) *keyEnvelope {
	return &keyEnvelope{
		Magic:       EnvelopeMagic,
		Version:     EnvelopeVersion,
		Cipher:      suite,
		KDF:         params.Algorithm,
		HashFunc:    params.HashFunc,
		Iterations:  params.Iterations,
		Memory:      params.Memory,
		Parallelism: params.Parallelism,
		Salt:        salt,
		Wrapped:     wrapped,
	}
}

// kdfParams returns the parameters needed to re-derive the wrapping key
func (e *keyEnvelope) kdfParams() KDFParams {
	return KDFParams{
		Algorithm:   e.KDF,
		Memory:      e.Memory,
		Parallelism: e.Parallelism,
		Iterations:  e.Iterations,
		HashFunc:    e.HashFunc,
		SaltSize:    len(e.Salt),
	}
}

// MarshalBinary encodes the envelope
func (e *keyEnvelope) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	fixed := []any{
		e.Magic, e.Version, e.Cipher, e.KDF, e.HashFunc,
		e.Iterations, e.Memory, e.Parallelism, uint16(len(e.Salt)),
	}
	for _, v := range fixed {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("failed to write envelope header: %w", err)
		}
	}
	buf.Write(e.Salt)
	buf.Write(e.Wrapped)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an envelope produced by MarshalBinary
func (e *keyEnvelope) UnmarshalBinary(data []byte) error {
	if len(data) < minEnvelopeSize {
		return ErrInvalidHeader
	}
	r := bytes.NewReader(data)

	var saltSize uint16
	fixed := []any{
		&e.Magic, &e.Version, &e.Cipher, &e.KDF, &e.HashFunc,
		&e.Iterations, &e.Memory, &e.Parallelism, &saltSize,
	}
	for _, v := range fixed {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to read envelope header: %w", err)
		}
	}
	if err := e.validateHeader(); err != nil {
		return err
	}
	if saltSize == 0 || saltSize > MaxSaltSize {
		return fmt.Errorf("salt size %d out of range: %w", saltSize, ErrKDFParams)
	}

	e.Salt = make([]byte, saltSize)
	if _, err := io.ReadFull(r, e.Salt); err != nil {
		return fmt.Errorf("failed to read salt: %w", ErrInvalidHeader)
	}
	e.Wrapped = make([]byte, r.Len())
	_, _ = io.ReadFull(r, e.Wrapped)
	return e.kdfParams().Validate()
}

// Validate checks the header fields and bounds the KDF cost parameters
func (e *keyEnvelope) Validate() error {
	if err := e.validateHeader(); err != nil {
		return err
	}
	return e.kdfParams().Validate()
}

func (e *keyEnvelope) validateHeader() error {
	if e.Magic != EnvelopeMagic {
		return ErrInvalidHeader
	}
	if e.Version > EnvelopeVersion {
		return ErrUnsupportedVersion
	}
	switch e.Cipher {
	case CipherAES256GCM, CipherChaCha20Poly1305, CipherXChaCha20Poly1305:
	default:
		return ErrUnsupportedCipher
	}
	switch e.KDF {
	case KDFArgon2id, KDFPBKDF2, KDFHKDF:
	default:
		return ErrUnsupportedKDF
	}
	return nil
}
