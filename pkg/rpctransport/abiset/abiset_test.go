package abiset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleABI = `[{"type":"function","name":"getReserves","inputs":[],"outputs":[{"type":"uint112"},{"type":"uint112"},{"type":"uint32"}]}]`

func TestLoadRawABI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleABI), 0o644))

	s := New()
	require.NoError(t, s.LoadRawABI("uniswap-v2", path))

	a, ok := s.Get("uniswap-v2")
	require.True(t, ok)
	_, ok = a.Methods["getReserves"]
	assert.True(t, ok)
}

func TestLoadFromHardhatArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Pool.json")
	artifact := `{"contractName":"Pool","abi":` + sampleABI + `}`
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0o644))

	s := New()
	require.NoError(t, s.LoadFromHardhatArtifact("uniswap-v3", path))

	_, ok := s.Get("uniswap-v3")
	assert.True(t, ok)
}

func TestHex2Bytes(t *testing.T) {
	assert.Equal(t, []byte{0xab, 0xcd}, Hex2Bytes("0xabcd"))
	assert.Equal(t, []byte{0xab, 0xcd}, Hex2Bytes("abcd"))
}
