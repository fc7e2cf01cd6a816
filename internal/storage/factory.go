// Package storage builds the object storage used to publish artifacts.
package storage

import (
	"fmt"
	"strings"

	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
	"github.com/kit0ra/SCDownloader/internal/storage/adapters/fs"
	"github.com/kit0ra/SCDownloader/internal/storage/adapters/s3"
	storagetypes "github.com/kit0ra/SCDownloader/internal/storage/types"
)

// New returns the configured object storage, or nil when publishing is
// disabled.
func New(cfg *config.Config, logger types.Logger, metrics types.Metrics) (storagetypes.ObjectStorage, error) {
	if !cfg.IsStorageEnabled() {
		return nil, nil
	}

	switch strings.ToLower(cfg.Storage.Provider) {
	case "s3":
		client, err := s3.NewClient(cfg.Storage, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		return client, nil
	case "fs":
		store, err := fs.NewStorage(cfg.Storage.FS.BasePath, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Storage.Provider)
	}
}
