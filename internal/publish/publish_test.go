package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/storage"
	"github.com/JakeFAU/site-mirror/internal/storage/local"
	"github.com/JakeFAU/site-mirror/internal/storage/memory"
)

const dest = "2026/03/4/12-00-00"

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "site-mirror-abc")
	for name, body := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o600))
	}
	return root
}

func TestPublishMovesTreeToLocalBucket(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"example.com/index.html":           "<html><body>home</body></html>",
		"example.com/css/site.css":         "body{}",
		"example.com/blog/post/index.html": "<html><body>post</body></html>",
		"cdn.example.com/img/logo.png":     "png",
	}
	scratch := writeTree(t, files)

	baseDir := t.TempDir()
	bucket, err := local.New(local.Config{BaseDir: baseDir})
	require.NoError(t, err)

	report, err := New(bucket, zap.NewNop()).Publish(context.Background(), scratch, dest)
	require.NoError(t, err)
	require.Empty(t, report.Failures)
	require.Len(t, report.Files, len(files))
	require.Equal(t, []string{"cdn.example.com", "example.com"}, report.Entries)

	for name, body := range files {
		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(baseDir, dest, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		require.Equal(t, body, string(got))
	}
	require.NoDirExists(t, scratch)

	// #nosec G304 -- test reads from the controlled temp directory.
	index, err := os.ReadFile(filepath.Join(baseDir, dest, IndexName))
	require.NoError(t, err)
	require.Contains(t, string(index), `<a href="example.com/">example.com</a>`)
	require.Contains(t, string(index), `<a href="cdn.example.com/">cdn.example.com</a>`)
}

func TestPublishSniffsHTMLForRemoteBuckets(t *testing.T) {
	t.Parallel()

	scratch := writeTree(t, map[string]string{
		"example.com/index.html":         "<html><body>home</body></html>",
		"example.com/wp-json/index.html": `{"name":"site"}`,
		"example.com/style.css":          "body{}",
	})
	bucket := memory.NewBlobStore(true)

	report, err := New(bucket, zap.NewNop()).Publish(context.Background(), scratch, dest)
	require.NoError(t, err)
	require.Empty(t, report.Failures)

	page, ok := bucket.Get(dest + "/example.com/index.html")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(page.ContentType, "text/html"), page.ContentType)

	api, ok := bucket.Get(dest + "/example.com/wp-json/index.html")
	require.True(t, ok)
	assert.Equal(t, "application/json", api.ContentType)

	css, ok := bucket.Get(dest + "/example.com/style.css")
	require.True(t, ok)
	assert.Empty(t, css.ContentType)

	index, ok := bucket.Get(dest + "/" + IndexName)
	require.True(t, ok)
	assert.Equal(t, "text/html; charset=utf-8", index.ContentType)
	require.True(t, bucket.HasDir(dest+"/example.com/wp-json"))
}

func TestPublishLocalBucketSkipsSniffing(t *testing.T) {
	t.Parallel()

	scratch := writeTree(t, map[string]string{"example.com/index.html": "<html></html>"})
	bucket := memory.NewBlobStore(false)

	_, err := New(bucket, zap.NewNop()).Publish(context.Background(), scratch, dest)
	require.NoError(t, err)

	page, ok := bucket.Get(dest + "/example.com/index.html")
	require.True(t, ok)
	assert.Empty(t, page.ContentType)
}

func TestPublishContinuesPastFailedFile(t *testing.T) {
	t.Parallel()

	scratch := writeTree(t, map[string]string{
		"example.com/a.html": "<html>a</html>",
		"example.com/b.html": "<html>b</html>",
		"example.com/c.html": "<html>c</html>",
	})
	boom := errors.New("quota exceeded")

	bucket := &storage.MockBucket{}
	bucket.On("Remote").Return(false).Maybe()
	bucket.On("MakeDir", mock.Anything, mock.Anything).Return(nil)
	bucket.On("PutObject", mock.Anything, dest+"/example.com/b.html", "").Return("", boom)
	bucket.On("PutObject", mock.Anything, mock.Anything, mock.Anything).Return("file://ok", nil)

	report, err := New(bucket, zap.NewNop()).Publish(context.Background(), scratch, dest)
	require.NoError(t, err)
	require.Equal(t, []string{dest + "/example.com/a.html", dest + "/example.com/c.html"}, report.Files)
	require.Len(t, report.Failures, 1)
	require.Equal(t, dest+"/example.com/b.html", report.Failures[0].File)
	require.ErrorIs(t, report.Failures[0], boom)
	require.NoDirExists(t, scratch)
	bucket.AssertCalled(t, "PutObject", mock.Anything, dest+"/"+IndexName, "")
}

// failingBucket rejects writes and directories for the listed paths.
type failingBucket struct {
	*memory.BlobStore
	fail map[string]bool
}

func (b failingBucket) MakeDir(ctx context.Context, p string) error {
	if b.fail[p] {
		return errors.New("mkdir refused")
	}
	return b.BlobStore.MakeDir(ctx, p)
}

func (b failingBucket) PutObject(ctx context.Context, p, contentType string, r io.Reader) (string, error) {
	if b.fail[p] {
		return "", errors.New("write refused")
	}
	return b.BlobStore.PutObject(ctx, p, contentType, r)
}

func TestPublishIndexOmitsFailedEntries(t *testing.T) {
	t.Parallel()

	scratch := writeTree(t, map[string]string{
		"example.com/index.html":   "<html>home</html>",
		"cdn.example.com/logo.png": "png",
		"robots.txt":               "User-agent: *",
		"sitemap.xml":              "<urlset/>",
	})
	bucket := failingBucket{
		BlobStore: memory.NewBlobStore(false),
		fail: map[string]bool{
			dest + "/cdn.example.com": true,
			dest + "/robots.txt":      true,
		},
	}

	report, err := New(bucket, zap.NewNop()).Publish(context.Background(), scratch, dest)
	require.NoError(t, err)
	require.Len(t, report.Failures, 2)
	require.ElementsMatch(t, []string{"example.com", "sitemap.xml"}, report.Entries)

	index, ok := bucket.Get(dest + "/" + IndexName)
	require.True(t, ok)
	body := string(index.Data)
	assert.Contains(t, body, `<a href="example.com/">example.com</a>`)
	assert.Contains(t, body, `<a href="sitemap.xml">sitemap.xml</a>`)
	assert.NotContains(t, body, "cdn.example.com")
	assert.NotContains(t, body, "robots.txt")
}

func TestPublishMissingScratch(t *testing.T) {
	t.Parallel()

	bucket := memory.NewBlobStore(false)
	_, err := New(bucket, zap.NewNop()).Publish(context.Background(), filepath.Join(t.TempDir(), "missing"), dest)
	require.Error(t, err)
}
