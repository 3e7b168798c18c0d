package cryptosqlite

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveWrappingKey(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, 16)
	otherSalt := bytes.Repeat([]byte{2}, 16)

	tests := []struct {
		name   string
		params KDFParams
	}{
		{"argon2id", testKDF},
		{"pbkdf2-sha256", KDFParams{Algorithm: KDFPBKDF2, Iterations: 1000, HashFunc: SHA256}},
		{"pbkdf2-sha512", KDFParams{Algorithm: KDFPBKDF2, Iterations: 1000, HashFunc: SHA512}},
		{"hkdf", KDFParams{Algorithm: KDFHKDF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := deriveWrappingKey([]byte("secret"), salt, tt.params)
			require.NoError(t, err)
			assert.Len(t, a, wrappingKeySize)

			b, err := deriveWrappingKey([]byte("secret"), salt, tt.params)
			require.NoError(t, err)
			assert.Equal(t, a, b, "derivation is deterministic")

			c, err := deriveWrappingKey([]byte("secret"), otherSalt, tt.params)
			require.NoError(t, err)
			assert.NotEqual(t, a, c, "salt changes the key")

			d, err := deriveWrappingKey([]byte("wrong"), salt, tt.params)
			require.NoError(t, err)
			assert.NotEqual(t, a, d, "external key changes the key")
		})
	}
}

func TestDeriveWrappingKey_Errors(t *testing.T) {
	salt := make([]byte, 16)
	_, err := deriveWrappingKey(nil, salt, testKDF)
	assert.Error(t, err)
	_, err = deriveWrappingKey([]byte("k"), nil, testKDF)
	assert.Error(t, err)
	_, err = deriveWrappingKey([]byte("k"), salt, KDFParams{Algorithm: KDFArgon2id})
	assert.Error(t, err)
	_, err = deriveWrappingKey([]byte("k"), salt, KDFParams{Algorithm: KDFPBKDF2, Iterations: 1, HashFunc: HashFunc(9)})
	assert.Error(t, err)
	_, err = deriveWrappingKey([]byte("k"), salt, KDFParams{Algorithm: KDF(9)})
	assert.ErrorIs(t, err, ErrUnsupportedKDF)
}

func TestKeyEnvelope_RoundTrip(t *testing.T) {
	params := KDFParams{Algorithm: KDFPBKDF2, Iterations: 1234, HashFunc: SHA512, SaltSize: 16}
	salt := bytes.Repeat([]byte{7}, 16)
	wrapped := bytes.Repeat([]byte{9}, 72)

	data, err := newKeyEnvelope(CipherAES256GCM, params, salt, wrapped).MarshalBinary()
	require.NoError(t, err)

	var env keyEnvelope
	require.NoError(t, env.UnmarshalBinary(data))
	assert.Equal(t, CipherAES256GCM, env.Cipher)
	assert.Equal(t, salt, env.Salt)
	assert.Equal(t, wrapped, env.Wrapped)
	assert.Equal(t, params, env.kdfParams())
}

func TestKeyEnvelope_Invalid(t *testing.T) {
	good, err := newKeyEnvelope(CipherXChaCha20Poly1305, testKDF, make([]byte, 16), make([]byte, 72)).MarshalBinary()
	require.NoError(t, err)

	var env keyEnvelope
	assert.ErrorIs(t, env.UnmarshalBinary(good[:10]), ErrInvalidHeader)

	badMagic := bytes.Clone(good)
	badMagic[0] ^= 0xff
	assert.ErrorIs(t, env.UnmarshalBinary(badMagic), ErrInvalidHeader)

	newer := bytes.Clone(good)
	newer[4] = EnvelopeVersion + 1
	assert.ErrorIs(t, env.UnmarshalBinary(newer), ErrUnsupportedVersion)

	badCipher := bytes.Clone(good)
	badCipher[5] = 99
	assert.ErrorIs(t, env.UnmarshalBinary(badCipher), ErrUnsupportedCipher)

	assert.ErrorIs(t, env.UnmarshalBinary(good[:minEnvelopeSize+4]), ErrInvalidHeader, "salt cut short")
}

func TestKDFParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  KDFParams
		wantErr bool
	}{
		{"argon2id test params", testKDF, false},
		{"argon2id default", DefaultKDFParams(), false},
		{"argon2id memory cap", KDFParams{Algorithm: KDFArgon2id, Memory: MaxArgon2Memory, Iterations: 1, Parallelism: 1, SaltSize: 16}, false},
		{"argon2id memory over cap", KDFParams{Algorithm: KDFArgon2id, Memory: MaxArgon2Memory + 1, Iterations: 1, Parallelism: 1, SaltSize: 16}, true},
		{"argon2id memory max uint32", KDFParams{Algorithm: KDFArgon2id, Memory: 0xFFFFFFFF, Iterations: 1, Parallelism: 1, SaltSize: 16}, true},
		{"argon2id zero memory", KDFParams{Algorithm: KDFArgon2id, Iterations: 1, Parallelism: 1, SaltSize: 16}, true},
		{"argon2id iterations over cap", KDFParams{Algorithm: KDFArgon2id, Memory: 64, Iterations: MaxArgon2Iterations + 1, Parallelism: 1, SaltSize: 16}, true},
		{"argon2id zero iterations", KDFParams{Algorithm: KDFArgon2id, Memory: 64, Parallelism: 1, SaltSize: 16}, true},
		{"argon2id zero parallelism", KDFParams{Algorithm: KDFArgon2id, Memory: 64, Iterations: 1, SaltSize: 16}, true},
		{"pbkdf2 cap", KDFParams{Algorithm: KDFPBKDF2, Iterations: MaxPBKDF2Iterations, SaltSize: 16}, false},
		{"pbkdf2 over cap", KDFParams{Algorithm: KDFPBKDF2, Iterations: 0xFFFFFFFF, SaltSize: 16}, true},
		{"pbkdf2 zero iterations", KDFParams{Algorithm: KDFPBKDF2, SaltSize: 16}, true},
		{"pbkdf2 unknown hash", KDFParams{Algorithm: KDFPBKDF2, Iterations: 1000, HashFunc: HashFunc(9), SaltSize: 16}, true},
		{"hkdf ignores costs", KDFParams{Algorithm: KDFHKDF, Iterations: 0xFFFFFFFF, Memory: 0xFFFFFFFF, SaltSize: 16}, false},
		{"no salt", KDFParams{Algorithm: KDFHKDF}, true},
		{"salt over cap", KDFParams{Algorithm: KDFHKDF, SaltSize: MaxSaltSize + 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrKDFParams)
		})
	}
}

func TestKeyEnvelope_CostBounds(t *testing.T) {
	good, err := newKeyEnvelope(CipherXChaCha20Poly1305, testKDF, make([]byte, 16), make([]byte, 72)).MarshalBinary()
	require.NoError(t, err)
	pbkdf2Params := KDFParams{Algorithm: KDFPBKDF2, Iterations: 1000, HashFunc: SHA256, SaltSize: 16}
	goodPBKDF2, err := newKeyEnvelope(CipherXChaCha20Poly1305, pbkdf2Params, make([]byte, 16), make([]byte, 72)).MarshalBinary()
	require.NoError(t, err)

	// fixed field offsets: iterations 8, memory 12, parallelism 16, salt size 17
	tests := []struct {
		name   string
		base   []byte
		tamper func(b []byte)
	}{
		{"argon2id memory", good, func(b []byte) { binary.LittleEndian.PutUint32(b[12:], 0xFFFFFFFF) }},
		{"argon2id iterations", good, func(b []byte) { binary.LittleEndian.PutUint32(b[8:], 0xFFFFFFFF) }},
		{"argon2id zero iterations", good, func(b []byte) { binary.LittleEndian.PutUint32(b[8:], 0) }},
		{"argon2id parallelism", good, func(b []byte) { b[16] = 0 }},
		{"pbkdf2 iterations", goodPBKDF2, func(b []byte) { binary.LittleEndian.PutUint32(b[8:], 0xFFFFFFFF) }},
		{"pbkdf2 hash", goodPBKDF2, func(b []byte) { b[7] = 9 }},
		{"zero salt", good, func(b []byte) { binary.LittleEndian.PutUint16(b[17:], 0) }},
		{"salt over cap", good, func(b []byte) { binary.LittleEndian.PutUint16(b[17:], MaxSaltSize+1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Clone(tt.base)
			tt.tamper(data)
			var env keyEnvelope
			assert.ErrorIs(t, env.UnmarshalBinary(data), ErrKDFParams)
		})
	}
}
