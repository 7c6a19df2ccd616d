package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileStore_CreatesEmptyStoreWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aniops.yaml")

	store, err := OpenFileStore(path)
	require.NoError(t, err)

	assert.Empty(t, store.All())
	_, ok := store.Get("namespace")
	assert.False(t, ok)
}

func TestFileStore_SetPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aniops.yaml")

	store, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("namespace", "torchani"))
	require.NoError(t, store.Set("version", "0.1.0"))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)

	value, ok := reopened.Get("namespace")
	assert.True(t, ok)
	assert.Equal(t, "torchani", value)
	assert.Equal(t, map[string]string{
		"namespace": "torchani",
		"version":   "0.1.0",
	}, reopened.All())
}

func TestFileStore_SetOverwritesWithoutCorruptingOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aniops.yaml")

	store, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("registry", "local"))
	require.NoError(t, store.Set("version", "0.1.0"))
	require.NoError(t, store.Set("version", "0.2.0"))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)

	version, _ := reopened.Get("version")
	assert.Equal(t, "0.2.0", version)
	registry, _ := reopened.Get("registry")
	assert.Equal(t, "local", registry)
}

func TestFileStore_WritesOwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aniops.yaml")

	store, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("github_token", "secret"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(filepath.Join(dir, "aniops.yaml"))
	require.NoError(t, err)
	require.NoError(t, store.Set("namespace", "torchani"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "aniops.yaml", entries[0].Name())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(map[string]string{"namespace": "torchani"})

	value, ok := store.Get("namespace")
	assert.True(t, ok)
	assert.Equal(t, "torchani", value)

	require.NoError(t, store.Set("version", "0.1.0"))
	assert.Len(t, store.All(), 2)

	// All returns a copy, mutating it does not affect the store.
	store.All()["version"] = "tampered"
	value, _ = store.Get("version")
	assert.Equal(t, "0.1.0", value)
}
