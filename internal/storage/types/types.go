// Package types holds the object storage contract used to publish
// assembled artifacts.
package types

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when an object is not found in storage
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines the interface for object storage operations.
// An empty bucket selects the implementation's configured bucket.
type ObjectStorage interface {
	// Put stores an object in the specified bucket with the given key
	Put(ctx context.Context, bucket, key string, reader io.Reader, metadata ObjectMetadata) error

	// Exists checks if an object exists in the specified bucket
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Delete removes an object from the specified bucket
	Delete(ctx context.Context, bucket, key string) error
}

// ObjectMetadata represents metadata associated with stored objects
type ObjectMetadata struct {
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int64             `json:"content_length"`
	UserMetadata  map[string]string `json:"user_metadata,omitempty"`
}
