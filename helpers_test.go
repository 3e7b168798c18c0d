package cryptosqlite

import (
	"bytes"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/stretchr/testify/require"
)

// testKDF keeps Argon2id cheap enough for unit tests
var testKDF = KDFParams{
	Algorithm:   KDFArgon2id,
	Memory:      64,
	Iterations:  1,
	Parallelism: 1,
	SaltSize:    16,
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.KDF = testKDF
	cfg.Host = NewHost()
	return cfg
}

func newTestFS(t *testing.T) absfs.FileSystem {
	t.Helper()
	fs, err := memfs.NewFS()
	require.NoError(t, err)
	return fs
}

// newTestShim returns a shim over a host directory in t.TempDir()
func newTestShim(t *testing.T, cfg *Config) (*CryptVFS, *BaseVFS) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	base, err := NewDirVFS(t.TempDir())
	require.NoError(t, err)
	v, err := NewCryptVFS(base, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v, base
}

// testPage returns a page of size bytes that starts with prefix. The
// reserved tail is left zero.
func testPage(size int, prefix string) []byte {
	page := make([]byte, size)
	copy(page, prefix)
	fill := bytes.Repeat([]byte{byte(len(prefix))}, size/2)
	copy(page[len(prefix):], fill)
	return page
}

// openMain opens name as a main database through v with key
func openMain(t *testing.T, v *CryptVFS, name string, key string) *CryptFile {
	t.Helper()
	f, err := v.OpenDatabase(name, []byte(key), OpenReadWrite|OpenCreate)
	require.NoError(t, err)
	return f
}
