package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModelFile(t *testing.T, root, folder, filename string, size int) {
	t.Helper()
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), make([]byte, size), 0o644))
}

func TestDiscoverParsesContextLenFromFilename(t *testing.T) {
	root := t.TempDir()
	writeModelFile(t, root, "qwen3-0.6b", "qwen3-0.6b-w8a8-ctx16384-rk3588.rkllm", 100)
	writeModelFile(t, root, "gemma-3-270m", "gemma-3-270m.rkllm", 50)

	reg := New(root)
	require.NoError(t, reg.Discover())

	d, ok := reg.Lookup("qwen3-0.6b")
	require.True(t, ok)
	assert.Equal(t, 16384, d.ContextLen)

	d2, ok := reg.Lookup("GEMMA-3-270M")
	require.True(t, ok)
	assert.Equal(t, defaultContextLen, d2.ContextLen)
}

func TestListSortedBySizeAscending(t *testing.T) {
	root := t.TempDir()
	writeModelFile(t, root, "big", "big.rkllm", 500)
	writeModelFile(t, root, "small", "small.rkllm", 10)

	reg := New(root)
	require.NoError(t, reg.Discover())

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "small", list[0].FriendlyName)
	assert.Equal(t, "big", list[1].FriendlyName)
}

func TestLookupUnknownReturnsFalse(t *testing.T) {
	reg := New(t.TempDir())
	require.NoError(t, reg.Discover())
	_, ok := reg.Lookup("nope")
	assert.False(t, ok)
}

func TestDiscoverIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeModelFile(t, root, "m1", "m1.rkllm", 10)

	reg := New(root)
	require.NoError(t, reg.Discover())
	first := reg.List()
	require.NoError(t, reg.Discover())
	second := reg.List()

	assert.Equal(t, first, second)
}

func TestDiscoverMissingRootYieldsEmptyRegistry(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, reg.Discover())
	assert.Empty(t, reg.List())
}

func TestDiscoverIgnoresExtraFilesPicksFirst(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "multi")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rkllm"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rkllm"), []byte("xx"), 0o644))

	reg := New(root)
	require.NoError(t, reg.Discover())
	d, ok := reg.Lookup("multi")
	require.True(t, ok)
	assert.Contains(t, d.Path, "a.rkllm")
}
