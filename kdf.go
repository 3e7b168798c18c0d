package cryptosqlite

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// wrappingKeySize is the length of every derived wrapping key
const wrappingKeySize = 32

var hkdfInfo = []byte("cryptosqlite wrapping key")

// deriveWrappingKey derives the key that protects the data key at rest.
// The returned slice belongs to the caller, who must wipe it.
func deriveWrappingKey(externalKey, salt []byte, params KDFParams) ([]byte, error) {
	if len(externalKey) == 0 {
		return nil, errors.New("external key cannot be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt cannot be empty")
	}
	params.SaltSize = len(salt)
	if err := params.Validate(); err != nil {
		return nil, err
	}

	switch params.Algorithm {
	case KDFArgon2id:
		return argon2.IDKey(
			externalKey,
			salt,
			params.Iterations,
			params.Memory,
			params.Parallelism,
			wrappingKeySize,
		), nil

	case KDFPBKDF2:
		var hashFunc func() hash.Hash
		switch params.HashFunc {
		case SHA256:
			hashFunc = sha256.New
		case SHA512:
			hashFunc = sha512.New
		default:
			return nil, fmt.Errorf("unsupported hash function: %v", params.HashFunc)
		}
		return pbkdf2.Key(externalKey, salt, int(params.Iterations), wrappingKeySize, hashFunc), nil

	case KDFHKDF:
		key := make([]byte, wrappingKeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, externalKey, salt, hkdfInfo), key); err != nil {
			return nil, fmt.Errorf("failed to expand key: %w", err)
		}
		return key, nil

	default:
		return nil, ErrUnsupportedKDF
	}
}

// generateSalt generates a new random salt
func generateSalt(size int) ([]byte, error) {
	salt := make([]byte, size)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
