package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kit0ra/SCDownloader/internal/domain"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// artifactMode is the permission of a finished artifact. Temporary files are
// created owner-only, so it is applied before the rename.
const artifactMode os.FileMode = 0o644

// Assembler concatenates staged segments into the final artifact.
type Assembler struct {
	logger  types.Logger
	metrics types.Metrics
}

// NewAssembler creates an assembler.
func NewAssembler(logger types.Logger, metrics types.Metrics) *Assembler {
	return &Assembler{
		logger:  logger,
		metrics: metrics,
	}
}

// Assemble appends every successful segment of batch to outputPath in index
// order. The output appears only through a final rename; each staging file is
// deleted once its bytes are synced to the output.
func (a *Assembler) Assemble(ctx context.Context, batch domain.DownloadBatch, outputPath string) (*domain.AssembledArtifact, error) {
	a.metrics.StartOperation("assemble")
	defer a.metrics.EndOperation("assemble")
	startTime := time.Now()
	defer func() {
		a.metrics.RecordDuration("assemble", time.Since(startTime).Seconds())
	}()

	successes := batch.Successes()
	if len(successes) == 0 {
		a.metrics.RecordError("assemble", "no_segments")
		return nil, domain.ErrNoSegments
	}

	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outputPath)+".*.tmp")
	if err != nil {
		return nil, a.ioError(ctx, "failed to create output file", err)
	}
	tmpPath := tmp.Name()

	var total int64
	for _, seg := range successes {
		n, err := appendSegment(tmp, seg.Path)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return nil, a.ioError(ctx, fmt.Sprintf("failed to append segment %d", seg.Segment.Index), err)
		}
		if err := os.Remove(seg.Path); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return nil, a.ioError(ctx, fmt.Sprintf("failed to remove segment %d", seg.Segment.Index), err)
		}
		total += n
	}

	if err := tmp.Chmod(artifactMode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, a.ioError(ctx, "failed to set output file mode", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, a.ioError(ctx, "failed to close output file", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return nil, a.ioError(ctx, "failed to finalize output file", err)
	}

	artifact := &domain.AssembledArtifact{
		Path:       outputPath,
		TotalBytes: total,
		Segments:   len(successes),
		Gaps:       batch.Gaps(),
	}

	a.metrics.RecordSuccess("assemble")
	a.metrics.RecordFileSize("artifact", total)
	a.logger.Info(ctx, "Artifact assembled", types.Fields{
		"path":     outputPath,
		"segments": artifact.Segments,
		"size":     humanize.Bytes(uint64(total)),
		"gaps":     len(artifact.Gaps),
	})

	return artifact, nil
}

// Discard removes the staging files of a batch that will not be assembled.
func (a *Assembler) Discard(ctx context.Context, batch domain.DownloadBatch) {
	for _, o := range batch.Successes() {
		if err := os.Remove(o.Path); err != nil && !os.IsNotExist(err) {
			a.logger.Warn(ctx, "Failed to discard segment", types.Fields{
				"index": o.Segment.Index,
				"path":  o.Path,
				"error": err.Error(),
			})
		}
	}
}

func (a *Assembler) ioError(ctx context.Context, msg string, cause error) error {
	a.metrics.RecordError("assemble", "io")
	a.logger.Error(ctx, msg, cause, nil)
	return domain.NewDomainError(domain.ErrAssemblyIO.Code, msg, cause, false)
}

// appendSegment copies one staging file to dst and syncs dst.
func appendSegment(dst *os.File, path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, err
	}
	return n, dst.Sync()
}
