// Package local_test tests the local filesystem bucket.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-mirror/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.False(t, store.Remote())
	})

	t.Run("CreatesMissingBaseDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "mirrors")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("NestedPath", func(t *testing.T) {
		p := "2026/03/4/12-00-00/example.com/index.html"
		data := []byte("<html>hi</html>")
		uri, err := store.PutObject(ctx, p, "text/html", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, p), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, p))
		require.NoError(t, err)
		assert.Equal(t, data, readData)

		entries, err := os.ReadDir(filepath.Dir(filepath.Join(tempDir, p)))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files left behind")
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(ctx, "a.txt", "", bytes.NewReader([]byte("one")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "a.txt", "", bytes.NewReader([]byte("two")))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(readData))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", bytes.NewReader([]byte("data")))
		assert.ErrorContains(t, err, "path traversal")
	})
}

func TestMakeDirAndDeletePrefix(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.MakeDir(ctx, "2026/03/4/12-00-00/css"))
	assert.DirExists(t, filepath.Join(tempDir, "2026/03/4/12-00-00/css"))

	_, err = store.PutObject(ctx, "2026/03/4/12-00-00/css/site.css", "", bytes.NewReader([]byte("body{}")))
	require.NoError(t, err)

	require.NoError(t, store.DeletePrefix(ctx, "2026/03/4/12-00-00"))
	assert.NoDirExists(t, filepath.Join(tempDir, "2026/03/4/12-00-00"))

	require.NoError(t, store.DeletePrefix(ctx, "2026/03/4/12-00-00"), "deleting twice is a no-op")
	assert.Error(t, store.DeletePrefix(ctx, ""))
	assert.Error(t, store.DeletePrefix(ctx, "../.."))
}

func TestPublicURL(t *testing.T) {
	tempDir := t.TempDir()

	store, err := local.New(local.Config{BaseDir: tempDir, PublicBaseURL: "https://example.com/mirrors/"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/mirrors/2026/03/4/12-00-00/", store.PublicURL("2026/03/4/12-00-00"))

	fileStore, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(tempDir)+"/2026/03/4/12-00-00/", fileStore.PublicURL("2026/03/4/12-00-00"))
}
