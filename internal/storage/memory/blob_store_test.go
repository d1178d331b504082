package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore(false)
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	obj, ok := store.Get("path/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data))
	require.Equal(t, "text/html", obj.ContentType)
}

func TestBlobStoreDeletePrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore(true)
	require.True(t, store.Remote())

	for _, p := range []string{"a/1.html", "a/b/2.css", "ab/3.js"} {
		_, err := store.PutObject(ctx, p, "", bytes.NewReader([]byte(p)))
		require.NoError(t, err)
	}
	require.NoError(t, store.MakeDir(ctx, "a/b"))
	require.True(t, store.HasDir("a/b"))

	require.NoError(t, store.DeletePrefix(ctx, "a"))
	require.Equal(t, []string{"ab/3.js"}, store.Paths())
	require.False(t, store.HasDir("a/b"))

	require.NoError(t, store.DeletePrefix(ctx, "a"))
}
