package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBucket is a mock implementation of the Bucket interface for testing.
type MockBucket struct {
	mock.Mock
}

// MakeDir is the mock implementation of MakeDir.
func (m *MockBucket) MakeDir(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0) //nolint:wrapcheck
}

// PutObject is the mock implementation of PutObject. The reader is drained
// so callers observe a complete transfer.
func (m *MockBucket) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	args := m.Called(ctx, path, contentType)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

// DeletePrefix is the mock implementation of DeletePrefix.
func (m *MockBucket) DeletePrefix(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0) //nolint:wrapcheck
}

// Remote is the mock implementation of Remote.
func (m *MockBucket) Remote() bool {
	return m.Called().Bool(0)
}

// PublicURL is the mock implementation of PublicURL.
func (m *MockBucket) PublicURL(path string) string {
	return m.Called(path).String(0)
}
