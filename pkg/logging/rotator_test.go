package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialRotator_WritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2025-01-01.log")

	r := NewSequentialRotator(path, 1, 0, 0)
	r.maxSize = 64
	defer r.Close()

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 3; i++ {
		n, err := r.Write(line)
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}

	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(dir, "2025-01-01.1.log"))
	assert.FileExists(t, filepath.Join(dir, "2025-01-01.2.log"))
}

func TestSequentialRotator_KeepsMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	r := NewSequentialRotator(path, 1, 0, 2)
	r.maxSize = 10
	defer r.Close()

	for i := 0; i < 6; i++ {
		_, err := r.Write([]byte("0123456789"))
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "app.*.log"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.FileExists(t, filepath.Join(dir, "app.5.log"))
	assert.FileExists(t, filepath.Join(dir, "app.4.log"))
}

func TestSequentialRotator_AppendsToExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0644))

	r := NewSequentialRotator(path, 1, 0, 0)
	_, err := r.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

func TestSequentialRotator_CloseIsIdempotent(t *testing.T) {
	r := NewSequentialRotator(filepath.Join(t.TempDir(), "a.log"), 1, 0, 0)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Sync())
}
