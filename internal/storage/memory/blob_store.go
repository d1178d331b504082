// Package memory stores mirror files in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

// Object is a stored file and the content type it was written with.
type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore stores mirror files in-memory and returns pseudo URIs.
type BlobStore struct {
	mu     sync.RWMutex
	remote bool
	data   map[string]Object
	dirs   map[string]struct{}
}

// NewBlobStore creates a new in-memory bucket. A remote store behaves like
// an object store for callers that branch on Remote.
func NewBlobStore(remote bool) *BlobStore {
	return &BlobStore{
		remote: remote,
		data:   make(map[string]Object),
		dirs:   make(map[string]struct{}),
	}
}

// MakeDir records a directory.
func (s *BlobStore) MakeDir(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[clean(p)] = struct{}{}
	return nil
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, p string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := clean(p)
	s.data[key] = Object{Data: append([]byte(nil), byteData...), ContentType: contentType}
	return fmt.Sprintf("memory://%s", key), nil
}

// DeletePrefix drops every object and directory under p.
func (s *BlobStore) DeletePrefix(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := clean(p)
	for k := range s.data {
		if under(k, prefix) {
			delete(s.data, k)
		}
	}
	for k := range s.dirs {
		if under(k, prefix) {
			delete(s.dirs, k)
		}
	}
	return nil
}

// Remote reports whether the store was created as remote.
func (s *BlobStore) Remote() bool { return s.remote }

// PublicURL returns a memory:// address for p.
func (s *BlobStore) PublicURL(p string) string {
	return "memory://" + clean(p) + "/"
}

// Get returns the object stored at p.
func (s *BlobStore) Get(p string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[clean(p)]
	return obj, ok
}

// Paths lists stored object paths in sorted order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HasDir reports whether MakeDir was called for p.
func (s *BlobStore) HasDir(p string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dirs[clean(p)]
	return ok
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func under(key, prefix string) bool {
	return prefix == "" || key == prefix || strings.HasPrefix(key, prefix+"/")
}
