package history_test

import (
	"os"
	"path/filepath"
	"testing"

	"plebfeed/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store := history.NewStore(filepath.Join(t.TempDir(), "history.json"))

	require.NoError(t, store.Load())
	assert.Equal(t, 0, store.Len())
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Cids": [truncated`), 0o644))

	store := history.NewStore(path)
	assert.Error(t, store.Load())
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	store := history.NewStore(path)
	require.NoError(t, store.Load())
	store.Add("QmFirst")
	store.Add("QmSecond")
	store.Add("QmSecond") // set semantics
	require.NoError(t, store.Save())

	reloaded := history.NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.Len())
	assert.True(t, reloaded.Contains("QmFirst"))
	assert.True(t, reloaded.Contains("QmSecond"))
	assert.False(t, reloaded.Contains("QmThird"))
}

func TestLoadResetsInMemorySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	store := history.NewStore(path)
	require.NoError(t, store.Load())
	store.Add("QmOnlyInMemory")

	// A reload reflects what is on disk, not what was only in memory.
	require.NoError(t, store.Load())
	assert.False(t, store.Contains("QmOnlyInMemory"))
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	store := history.NewStore(path)
	store.Add("QmFirst")
	require.NoError(t, store.Save())
	require.NoError(t, store.Clear())

	reloaded := history.NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 0, reloaded.Len())
}
