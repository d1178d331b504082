// Package storage defines the bucket abstraction that published mirrors are
// written to. The same contract covers the local filesystem and remote
// object stores so the publisher never branches on backend.
package storage

import (
	"context"
	"io"
)

// Bucket is a directory-like destination for mirror files. Paths are
// slash-separated and relative to the bucket root.
type Bucket interface {
	// MakeDir creates a directory. Object stores treat it as a no-op.
	MakeDir(ctx context.Context, path string) error
	// PutObject writes r to path and returns the stored object's URI. An
	// empty contentType leaves the backend default.
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
	// DeletePrefix removes path and everything beneath it. Missing entries
	// are not an error.
	DeletePrefix(ctx context.Context, path string) error
	// Remote reports whether the bucket is an object store rather than
	// local disk.
	Remote() bool
	// PublicURL returns the address the mirror at path is served from.
	PublicURL(path string) string
}

// NoOpBucket accepts and discards every write.
type NoOpBucket struct{}

// MakeDir does nothing.
func (NoOpBucket) MakeDir(context.Context, string) error { return nil }

// PutObject drains r and discards it.
func (NoOpBucket) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "noop://" + path, nil
}

// DeletePrefix does nothing.
func (NoOpBucket) DeletePrefix(context.Context, string) error { return nil }

// Remote reports false.
func (NoOpBucket) Remote() bool { return false }

// PublicURL returns an empty string.
func (NoOpBucket) PublicURL(string) string { return "" }
