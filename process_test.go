package cryptosqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessLifecycle(t *testing.T) {
	require.Nil(t, Instance())
	assert.True(t, IsProtocolError(Shutdown()), "shutdown before init")

	cfg := testConfig(t)
	base := newTestBase(t)
	require.NoError(t, cfg.Host.Register(base, true))

	v, err := Init(base, cfg)
	require.NoError(t, err)
	assert.Same(t, v, Instance())
	assert.Same(t, v, cfg.Host.Find(DefaultVFSName))
	assert.Same(t, base, cfg.Host.Default(), "init does not take over the default")

	_, err = Init(base, cfg)
	assert.True(t, IsProtocolError(err), "second init")

	f := openMain(t, v, "app.db", "secret")
	_, err = f.WriteAt(testPage(512, "HEADER"), 0)
	require.NoError(t, err)

	require.NoError(t, Shutdown())
	assert.Nil(t, Instance())
	assert.Nil(t, cfg.Host.Find(DefaultVFSName))
	assert.Empty(t, v.OpenDatabases(), "shutdown closes open databases")
}

func TestInit_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cipher = CipherSuite(50)
	_, err := Init(newTestBase(t), cfg)
	assert.True(t, IsConfigError(err))
	assert.Nil(t, Instance())
}
