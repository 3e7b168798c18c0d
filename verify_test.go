package cryptosqlite

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyDatabase(t *testing.T) {
	tests := []struct {
		name     string
		parallel ParallelConfig
	}{
		{"sequential", ParallelConfig{Enabled: false}},
		{"parallel", ParallelConfig{Enabled: true, MaxWorkers: 4, MinPagesForParallel: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Parallel = tt.parallel
			v, base := newTestShim(t, cfg)
			fs := base.FileSystem()
			writeDatabase(t, v, "app.db", "secret", 12, 512)

			report, err := VerifyDatabase(fs, "/app.db", []byte("secret"), cfg)
			require.NoError(t, err)
			assert.True(t, report.OK())
			assert.Equal(t, 12, report.Pages)
			assert.Equal(t, 512, report.PageSize)

			// Damage pages 9 and 4
			for _, off := range []int64{8*512 + 17, 3*512 + 100} {
				f, err := fs.OpenFile("/app.db", os.O_RDWR, 0)
				require.NoError(t, err)
				_, err = f.WriteAt([]byte{0x5a, 0xa5}, off)
				require.NoError(t, err)
				require.NoError(t, f.Close())
			}

			report, err = VerifyDatabase(fs, "/app.db", []byte("secret"), cfg)
			require.NoError(t, err)
			assert.False(t, report.OK())
			assert.Equal(t, []uint64{4, 9}, report.FailedPages)

			_, err = VerifyDatabase(fs, "/app.db", []byte("wrong"), cfg)
			assert.True(t, IsAuthenticationError(err))
		})
	}
}

func TestVerifyDatabase_Layout(t *testing.T) {
	cfg := testConfig(t)
	v, base := newTestShim(t, cfg)
	fs := base.FileSystem()

	f := openMain(t, v, "empty.db", "secret")
	require.NoError(t, f.Close())
	report, err := VerifyDatabase(fs, "/empty.db", []byte("secret"), cfg)
	require.NoError(t, err)
	assert.Zero(t, report.Pages)
	assert.True(t, report.OK())

	writeDatabase(t, v, "ragged.db", "secret", 2, 512)
	require.NoError(t, fs.Truncate("/ragged.db", 700))
	_, err = VerifyDatabase(fs, "/ragged.db", []byte("secret"), cfg)
	assert.True(t, IsCorruptionError(err))

	_, err = VerifyDatabase(fs, "/missing.db", []byte("secret"), cfg)
	assert.True(t, IsIOError(err))
}

func TestDecryptPageAt(t *testing.T) {
	cfg := testConfig(t)
	v, base := newTestShim(t, cfg)
	fs := base.FileSystem()
	writeDatabase(t, v, "app.db", "secret", 3, 1024)

	page, err := DecryptPageAt(fs, "/app.db", []byte("secret"), 2, cfg)
	require.NoError(t, err)
	assert.Len(t, page, 1024)
	assert.Equal(t, "page 2", string(page[:6]))

	_, err = DecryptPageAt(fs, "/app.db", []byte("secret"), 0, cfg)
	assert.True(t, IsValidationError(err))

	_, err = DecryptPageAt(fs, "/app.db", []byte("secret"), 4, cfg)
	assert.True(t, IsIOError(err))
	assert.ErrorIs(t, err, io.EOF)

	_, err = DecryptPageAt(fs, "/app.db", []byte("wrong"), 1, cfg)
	assert.True(t, IsAuthenticationError(err))
}
