package service

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kit0ra/SCDownloader/internal/domain"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
	storagetypes "github.com/kit0ra/SCDownloader/internal/storage/types"
)

var contentTypes = map[string]string{
	".ts":  "video/mp2t",
	".mp4": "video/mp4",
	".m4s": "video/iso.segment",
	".aac": "audio/aac",
}

// Publisher uploads assembled artifacts to object storage.
type Publisher struct {
	storage   storagetypes.ObjectStorage
	bucket    string
	prefix    string
	keepLocal bool
	logger    types.Logger
	metrics   types.Metrics
}

// NewPublisher creates a publisher. An empty bucket uses the storage
// default.
func NewPublisher(
	storage storagetypes.ObjectStorage,
	bucket, prefix string,
	keepLocal bool,
	logger types.Logger,
	metrics types.Metrics,
) *Publisher {
	return &Publisher{
		storage:   storage,
		bucket:    bucket,
		prefix:    prefix,
		keepLocal: keepLocal,
		logger:    logger,
		metrics:   metrics,
	}
}

// ObjectKey returns the key an artifact is stored under.
func (p *Publisher) ObjectKey(artifact *domain.AssembledArtifact) string {
	return path.Join(p.prefix, filepath.Base(artifact.Path))
}

// Publish uploads the artifact and returns its object key. The local file is
// removed afterwards unless keepLocal is set.
func (p *Publisher) Publish(ctx context.Context, artifact *domain.AssembledArtifact) (string, error) {
	p.metrics.StartOperation("publish")
	defer p.metrics.EndOperation("publish")
	startTime := time.Now()
	defer func() {
		p.metrics.RecordDuration("publish", time.Since(startTime).Seconds())
	}()

	key := p.ObjectKey(artifact)

	file, err := os.Open(artifact.Path)
	if err != nil {
		p.metrics.RecordError("publish", "io")
		return "", domain.NewDomainError(domain.ErrStorageFailed.Code, "failed to open artifact", err, false)
	}
	defer file.Close()

	metadata := storagetypes.ObjectMetadata{
		ContentType:   contentType(artifact.Path),
		ContentLength: artifact.TotalBytes,
		UserMetadata: map[string]string{
			"segments": strconv.Itoa(artifact.Segments),
			"gaps":     strconv.Itoa(len(artifact.Gaps)),
		},
	}

	if err := p.storage.Put(ctx, p.bucket, key, file, metadata); err != nil {
		p.metrics.RecordError("publish", "storage")
		return "", domain.NewDomainError(domain.ErrStorageFailed.Code, domain.ErrStorageFailed.Message, err, true)
	}

	p.metrics.RecordSuccess("publish")
	p.logger.Info(ctx, "Artifact published", types.Fields{
		"key":    key,
		"bucket": p.bucket,
	})

	if !p.keepLocal {
		file.Close()
		if err := os.Remove(artifact.Path); err != nil {
			p.logger.Warn(ctx, "Failed to remove local artifact", types.Fields{
				"path":  artifact.Path,
				"error": err.Error(),
			})
		}
	}

	return key, nil
}

func contentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
