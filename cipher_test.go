package cryptosqlite

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allSuites = []CipherSuite{CipherAES256GCM, CipherChaCha20Poly1305, CipherXChaCha20Poly1305}

func newTestCipher(t *testing.T, suite CipherSuite) (DataCipher, []byte) {
	t.Helper()
	dc, err := NewDataCipher(suite)
	require.NoError(t, err)
	key := make([]byte, dc.KeySize())
	require.NoError(t, dc.GenerateKey(key))
	return dc, key
}

func TestNewDataCipher(t *testing.T) {
	tests := []struct {
		suite     CipherSuite
		wantSuite CipherSuite
		extra     int
	}{
		{CipherAES256GCM, CipherAES256GCM, 28},
		{CipherChaCha20Poly1305, CipherChaCha20Poly1305, 28},
		{CipherXChaCha20Poly1305, CipherXChaCha20Poly1305, 40},
		{CipherAuto, CipherXChaCha20Poly1305, 40},
	}
	for _, tt := range tests {
		t.Run(tt.suite.String(), func(t *testing.T) {
			dc, err := NewDataCipher(tt.suite)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuite, dc.Suite())
			assert.Equal(t, tt.extra, dc.ExtraSize())
			assert.Equal(t, 32, dc.KeySize())
		})
	}

	_, err := NewDataCipher(CipherSuite(99))
	assert.ErrorIs(t, err, ErrUnsupportedCipher)

	for _, suite := range allSuites {
		parsed, err := ParseCipherSuite(suite.String())
		require.NoError(t, err)
		assert.Equal(t, suite, parsed)
	}
	_, err = ParseCipherSuite("rot13")
	assert.ErrorIs(t, err, ErrUnsupportedCipher)
}

func TestDataCipher_RoundTrip(t *testing.T) {
	for _, suite := range allSuites {
		t.Run(suite.String(), func(t *testing.T) {
			dc, key := newTestCipher(t, suite)
			page := testPage(4096, "round trip")
			ct := make([]byte, len(page))
			pt := make([]byte, len(page))

			require.NoError(t, dc.Encrypt(3, page, ct, key))
			assert.NotEqual(t, page, ct)
			require.NoError(t, dc.Decrypt(3, ct, pt, key))

			assert.Equal(t, page, pt)
		})
	}
}

func TestDataCipher_RejectsReservedBytes(t *testing.T) {
	for _, suite := range allSuites {
		t.Run(suite.String(), func(t *testing.T) {
			dc, key := newTestCipher(t, suite)
			ct := make([]byte, 4096)

			full := bytes.Repeat([]byte{0xaa}, 4096)
			assert.ErrorIs(t, dc.Encrypt(2, full, ct, key), ErrReservedBytes)

			page := testPage(4096, "last byte")
			page[len(page)-1] = 1
			assert.ErrorIs(t, dc.Encrypt(2, page, ct, key), ErrReservedBytes)

			page[len(page)-1] = 0
			page[len(page)-dc.ExtraSize()-1] = 0xff
			require.NoError(t, dc.Encrypt(2, page, ct, key), "last body byte is usable")
			pt := make([]byte, len(page))
			require.NoError(t, dc.Decrypt(2, ct, pt, key))
			assert.Equal(t, page, pt)
		})
	}
}

func TestDataCipher_PageNumberUniqueness(t *testing.T) {
	for _, suite := range allSuites {
		t.Run(suite.String(), func(t *testing.T) {
			dc, key := newTestCipher(t, suite)
			page := testPage(1024, "same plaintext")

			seen := make(map[string]uint64)
			for pageNo := uint64(1); pageNo <= 16; pageNo++ {
				ct := make([]byte, len(page))
				require.NoError(t, dc.Encrypt(pageNo, page, ct, key))
				if prev, ok := seen[string(ct)]; ok {
					t.Fatalf("pages %d and %d encrypted identically", prev, pageNo)
				}
				seen[string(ct)] = pageNo
			}
		})
	}
}

func TestDataCipher_RejectsMovedPage(t *testing.T) {
	for _, suite := range allSuites {
		t.Run(suite.String(), func(t *testing.T) {
			dc, key := newTestCipher(t, suite)
			page := testPage(512, "page five")
			ct := make([]byte, len(page))
			out := make([]byte, len(page))
			require.NoError(t, dc.Encrypt(5, page, ct, key))

			assert.ErrorIs(t, dc.Decrypt(6, ct, out, key), ErrAuthFailed)
			assert.ErrorIs(t, dc.Decrypt(5|auxPositionTag, ct, out, key), ErrAuthFailed)
		})
	}
}

func TestDataCipher_DetectsTampering(t *testing.T) {
	for _, suite := range allSuites {
		t.Run(suite.String(), func(t *testing.T) {
			dc, key := newTestCipher(t, suite)
			page := testPage(512, "tamper")
			ct := make([]byte, len(page))
			out := make([]byte, len(page))
			require.NoError(t, dc.Encrypt(1, page, ct, key))

			for _, pos := range []int{0, 100, len(ct) - dc.ExtraSize(), len(ct) - 1} {
				bad := bytes.Clone(ct)
				bad[pos] ^= 0x01
				assert.ErrorIs(t, dc.Decrypt(1, bad, out, key), ErrAuthFailed, "flipped byte %d", pos)
			}

			otherKey := make([]byte, dc.KeySize())
			require.NoError(t, dc.GenerateKey(otherKey))
			assert.ErrorIs(t, dc.Decrypt(1, ct, out, otherKey), ErrAuthFailed)
		})
	}
}

func TestDataCipher_PageTooSmall(t *testing.T) {
	dc, key := newTestCipher(t, CipherXChaCha20Poly1305)
	small := make([]byte, dc.ExtraSize())
	err := dc.Encrypt(1, small, make([]byte, len(small)), key)
	assert.True(t, IsValidationError(err))
	assert.ErrorIs(t, dc.Encrypt(1, nil, nil, key), ErrNilBuffer)
}

func TestDataCipher_WrapUnwrap(t *testing.T) {
	for _, suite := range allSuites {
		t.Run(suite.String(), func(t *testing.T) {
			dc, dataKey := newTestCipher(t, suite)
			wrappingKey := bytes.Repeat([]byte{0x42}, 32)

			wrapped, err := dc.WrapKey(dataKey, wrappingKey)
			require.NoError(t, err)
			assert.NotContains(t, string(wrapped), string(dataKey))

			got := make([]byte, dc.KeySize())
			require.NoError(t, dc.UnwrapKey(got, wrapped, wrappingKey))
			assert.Equal(t, dataKey, got)

			wrong := bytes.Repeat([]byte{0x43}, 32)
			err = dc.UnwrapKey(got, wrapped, wrong)
			assert.True(t, errors.Is(err, ErrAuthFailed))
			assert.Equal(t, make([]byte, dc.KeySize()), got, "failed unwrap leaves no key material")

			err = dc.UnwrapKey(got, wrapped[:len(wrapped)-1], wrappingKey)
			assert.ErrorIs(t, err, ErrAuthFailed)
		})
	}
}
