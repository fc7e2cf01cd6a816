package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/kit0ra/SCDownloader/internal/storage/types"
)

// MockObjectStorage is a mock implementation of ObjectStorage interface
type MockObjectStorage struct {
	mock.Mock
}

// Put mocks the Put method. The reader is drained so callers observe a
// complete upload.
func (m *MockObjectStorage) Put(ctx context.Context, bucket, key string, reader io.Reader, metadata types.ObjectMetadata) error {
	if reader != nil {
		_, _ = io.Copy(io.Discard, reader)
	}
	args := m.Called(ctx, bucket, key, reader, metadata)
	return args.Error(0)
}

// Exists mocks the Exists method
func (m *MockObjectStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	args := m.Called(ctx, bucket, key)
	return args.Bool(0), args.Error(1)
}

// Delete mocks the Delete method
func (m *MockObjectStorage) Delete(ctx context.Context, bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}
