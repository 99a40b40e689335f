package main

import (
	"os"
	"path/filepath"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadContracts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployment.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"contracts":{
		"encryptedERC":"0x00000000000000000000000000000000000e4c20",
		"registrar":"0x0000000000000000000000000000000000000e91"}}`), 0o644))

	v := viper.New()
	v.Set("deployment-file", path)
	c, err := loadContracts(v)
	require.NoError(t, err)
	assert.Equal(t, ethcommon.HexToAddress("0xe4c20"), c.EncryptedERC)
	assert.Equal(t, ethcommon.HexToAddress("0xe91"), c.Registrar)

	v.Set("registrar-contract", "0x0000000000000000000000000000000000000abc")
	c, err = loadContracts(v)
	require.NoError(t, err)
	assert.Equal(t, ethcommon.HexToAddress("0xabc"), c.Registrar)

	v.Set("eerc-contract", "nope")
	_, err = loadContracts(v)
	require.Error(t, err)

	_, err = loadContracts(viper.New())
	require.Error(t, err)
}

func TestNewSnapshotter(t *testing.T) {
	dir := t.TempDir()
	fs, err := newSnapshotter("file", filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	ls, err := newSnapshotter("leveldb", filepath.Join(dir, "state"))
	require.NoError(t, err)
	require.NoError(t, ls.Close())

	_, err = newSnapshotter("mongo", dir)
	require.Error(t, err)
}

func TestRedacted(t *testing.T) {
	out := redacted(map[string]interface{}{"escrow-private-key": "0xabc", "rpc-url": "http://x"})
	assert.Equal(t, "<redacted>", out["escrow-private-key"])
	assert.Equal(t, "http://x", out["rpc-url"])
}
