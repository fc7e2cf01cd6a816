// Package fs publishes artifacts into a directory tree laid out like a
// bucket store: {base}/{bucket}/{key}, with a JSON metadata sidecar.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kit0ra/SCDownloader/internal/observability/types"
	storagetypes "github.com/kit0ra/SCDownloader/internal/storage/types"
)

const metadataSuffix = ".metadata.json"

// Storage implements ObjectStorage on the local filesystem.
type Storage struct {
	basePath string
	logger   types.Logger
	metrics  types.Metrics
}

// NewStorage creates the base directory if needed.
func NewStorage(basePath string, logger types.Logger, metrics types.Metrics) (*Storage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("invalid filesystem storage configuration: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &Storage{
		basePath: basePath,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Put writes the object through a temporary file in the target directory
// and renames it into place, so readers never see a partial object.
func (s *Storage) Put(ctx context.Context, bucket, key string, reader io.Reader, metadata storagetypes.ObjectMetadata) error {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("put", time.Since(start).Seconds())
	}()

	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		s.metrics.RecordError("put", "invalid_key")
		return err
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o755); err != nil {
		s.metrics.RecordError("put", "mkdir")
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}

	written, err := writeAtomic(objectPath, reader)
	if err != nil {
		s.metrics.RecordError("put", "write")
		s.logger.Error(ctx, "failed to store object", err, types.Fields{
			"bucket": bucket,
			"key":    key,
		})
		return err
	}

	if metadata.ContentLength <= 0 {
		metadata.ContentLength = written
	}
	if err := s.saveMetadata(objectPath, metadata); err != nil {
		s.metrics.RecordError("put", "metadata")
		return err
	}

	s.metrics.RecordSuccess("put")
	s.metrics.RecordFileSize("object", written)
	s.logger.Debug(ctx, "object stored successfully", types.Fields{
		"path": objectPath,
		"size": written,
	})

	return nil
}

func (s *Storage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(objectPath)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
}

// Delete removes the object and its metadata. Deleting a missing object
// returns ErrObjectNotFound.
func (s *Storage) Delete(ctx context.Context, bucket, key string) error {
	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.Remove(objectPath); err != nil {
		if os.IsNotExist(err) {
			return storagetypes.ErrObjectNotFound
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}
	os.Remove(objectPath + metadataSuffix)

	return nil
}

// Metadata reads the sidecar written by Put.
func (s *Storage) Metadata(bucket, key string) (storagetypes.ObjectMetadata, error) {
	var metadata storagetypes.ObjectMetadata

	objectPath, err := s.objectPath(bucket, key)
	if err != nil {
		return metadata, err
	}

	data, err := os.ReadFile(objectPath + metadataSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return metadata, storagetypes.ErrObjectNotFound
		}
		return metadata, err
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

// objectPath resolves bucket and key below the base path, rejecting keys
// that would escape it.
func (s *Storage) objectPath(bucket, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	p := filepath.Join(s.basePath, bucket, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.basePath, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("object key %q escapes the storage root", key)
	}
	return p, nil
}

func (s *Storage) saveMetadata(objectPath string, metadata storagetypes.ObjectMetadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(objectPath+metadataSuffix, data, 0o644); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func writeAtomic(path string, reader io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(tmp, reader)
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to write object: %w", err)
	}
	return written, nil
}
