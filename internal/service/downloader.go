package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/domain"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// Job describes one asset to download. Zero values fall back to the
// downloader's configured defaults.
type Job struct {
	// Input is an asset id or a page URL the id is derived from.
	Input       string
	Resolution  string
	Concurrency int
	Title       string
	AllowGaps   bool
}

// Result summarizes a finished download.
type Result struct {
	RunID      string
	AssetID    string
	Artifact   *domain.AssembledArtifact
	Groups     int
	Terminated bool
	// ObjectKey is set when the artifact was published.
	ObjectKey string
	Duration  time.Duration
}

// Downloader drives enumeration, scheduling, assembly and publishing of a
// single asset.
type Downloader struct {
	template  domain.SourceTemplate
	settings  config.DownloadConfig
	scheduler *Scheduler
	assembler *Assembler
	publisher *Publisher
	titles    domain.TitleLookup
	logger    types.Logger
	metrics   types.Metrics

	progressInterval time.Duration
}

// NewDownloader creates a downloader without publishing or title lookup.
func NewDownloader(
	template domain.SourceTemplate,
	settings config.DownloadConfig,
	scheduler *Scheduler,
	assembler *Assembler,
	logger types.Logger,
	metrics types.Metrics,
) *Downloader {
	return &Downloader{
		template:         template,
		settings:         settings,
		scheduler:        scheduler,
		assembler:        assembler,
		logger:           logger,
		metrics:          metrics,
		progressInterval: time.Second,
	}
}

// WithPublisher enables publishing of assembled artifacts.
func (d *Downloader) WithPublisher(p *Publisher) *Downloader {
	d.publisher = p
	return d
}

// WithTitleLookup sets the lookup used to name artifacts.
func (d *Downloader) WithTitleLookup(lookup domain.TitleLookup) *Downloader {
	d.titles = lookup
	return d
}

// Download fetches and assembles one asset. The per-run staging directory is
// always removed before returning.
func (d *Downloader) Download(ctx context.Context, job Job) (*Result, error) {
	d.metrics.StartOperation("download")
	defer d.metrics.EndOperation("download")
	startTime := time.Now()
	defer func() {
		d.metrics.RecordDuration("download", time.Since(startTime).Seconds())
	}()

	assetID, err := domain.AssetIDFromURL(job.Input)
	if err != nil {
		d.metrics.RecordError("download", "validation_error")
		return nil, err
	}

	resName := job.Resolution
	if resName == "" {
		resName = d.settings.Resolution
	}
	resolution, err := domain.ParseResolution(resName)
	if err != nil {
		d.metrics.RecordError("download", "validation_error")
		return nil, err
	}

	segments, err := d.template.Enumerate(assetID, resolution)
	if err != nil {
		d.metrics.RecordError("download", "validation_error")
		return nil, err
	}

	concurrency := job.Concurrency
	if concurrency < 1 {
		concurrency = d.settings.Concurrency
	}
	if limit := d.settings.MaxConcurrency; limit > 0 && concurrency > limit {
		d.metrics.RecordError("download", "validation_error")
		return nil, domain.NewDomainError(
			domain.CodeInvalidConcurrency,
			domain.ErrInvalidConcurrency.Message,
			fmt.Errorf("requested %d, maximum is %d", concurrency, limit),
			false,
		)
	}
	allowGaps := job.AllowGaps || d.settings.AllowGaps

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, types.RunIDKey, runID)
	ctx = context.WithValue(ctx, types.AssetIDKey, assetID)

	runDir := filepath.Join(d.settings.StagingDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		d.metrics.RecordError("download", "io")
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			d.logger.Warn(ctx, "Failed to remove staging directory", types.Fields{
				"path":  runDir,
				"error": err.Error(),
			})
		}
	}()

	if err := os.MkdirAll(d.settings.OutputDir, 0o755); err != nil {
		d.metrics.RecordError("download", "io")
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	d.logger.Info(ctx, "Starting asset download", types.Fields{
		"resolution":   string(resolution),
		"concurrency":  concurrency,
		"max_segments": len(segments),
	})

	tracker := newProgressTracker(ctx, d.logger, d.progressInterval)
	batch := d.scheduler.Run(ctx, segments, concurrency, runDir, tracker.observe)

	if err := ctx.Err(); err != nil {
		d.assembler.Discard(ctx, batch)
		d.metrics.RecordError("download", "cancelled")
		return nil, fmt.Errorf("download cancelled: %w", err)
	}

	if gaps := batch.Gaps(); len(gaps) > 0 {
		if !allowGaps {
			d.assembler.Discard(ctx, batch)
			d.metrics.RecordError("download", "incomplete")
			d.logger.Warn(ctx, "Asset incomplete", types.Fields{"gaps": gaps})
			return nil, domain.NewDomainError(
				domain.ErrIncompleteAsset.Code,
				fmt.Sprintf("%d segment(s) failed to download", len(gaps)),
				fmt.Errorf("missing segments %v", gaps),
				true,
			)
		}
		d.logger.Warn(ctx, "Assembling asset with missing segments", types.Fields{"gaps": gaps})
	}

	outputPath := filepath.Join(d.settings.OutputDir, d.outputName(ctx, assetID, job.Title)+"."+d.template.Extension)

	artifact, err := d.assembler.Assemble(ctx, batch, outputPath)
	if err != nil {
		d.metrics.RecordError("download", "assemble")
		return nil, err
	}

	result := &Result{
		RunID:      runID,
		AssetID:    assetID,
		Artifact:   artifact,
		Groups:     batch.Groups,
		Terminated: batch.Terminated,
	}

	if d.publisher != nil {
		key, err := d.publisher.Publish(ctx, artifact)
		if err != nil {
			d.metrics.RecordError("download", "publish")
			return nil, err
		}
		result.ObjectKey = key
	}

	result.Duration = time.Since(startTime)
	d.metrics.RecordSuccess("download")
	d.logger.Info(ctx, "Asset download completed", types.Fields{
		"path":     artifact.Path,
		"size":     humanize.Bytes(uint64(artifact.TotalBytes)),
		"segments": artifact.Segments,
		"duration": result.Duration.Round(time.Millisecond).String(),
	})

	return result, nil
}

// outputName picks the artifact file stem: an explicit title, a looked up
// title, or the asset id.
func (d *Downloader) outputName(ctx context.Context, assetID, title string) string {
	if name := domain.SanitizeTitle(title); name != "" {
		return name
	}
	if d.titles != nil {
		if found, ok := d.titles(ctx, assetID); ok {
			if name := domain.SanitizeTitle(found); name != "" {
				return name
			}
		}
	}
	return assetID
}

// progressTracker aggregates per-segment progress events into periodic log
// lines. observe is called concurrently by fetch goroutines.
type progressTracker struct {
	ctx      context.Context
	logger   types.Logger
	interval time.Duration

	mu       sync.Mutex
	received map[int]int64
	lastLog  time.Time
	start    time.Time
}

func newProgressTracker(ctx context.Context, logger types.Logger, interval time.Duration) *progressTracker {
	now := time.Now()
	return &progressTracker{
		ctx:      ctx,
		logger:   logger,
		interval: interval,
		received: make(map[int]int64),
		lastLog:  now,
		start:    now,
	}
}

func (p *progressTracker) observe(ev domain.ProgressEvent) {
	p.mu.Lock()
	p.received[ev.Index] = ev.Received
	now := time.Now()
	if now.Sub(p.lastLog) < p.interval {
		p.mu.Unlock()
		return
	}
	p.lastLog = now

	var total int64
	for _, n := range p.received {
		total += n
	}
	segments := len(p.received)
	elapsed := now.Sub(p.start)
	p.mu.Unlock()

	fields := types.Fields{
		"segment":    ev.Index,
		"segments":   segments,
		"downloaded": humanize.Bytes(uint64(total)),
		"elapsed":    elapsed.Truncate(time.Second).String(),
	}
	if ev.Percent >= 0 {
		fields["segment_percent"] = fmt.Sprintf("%.1f", ev.Percent)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		fields["rate"] = humanize.Bytes(uint64(float64(total)/secs)) + "/s"
	}
	p.logger.Info(p.ctx, "Download progress", fields)
}

// snapshot returns the bytes received so far across all segments.
func (p *progressTracker) snapshot() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total int64
	for _, n := range p.received {
		total += n
	}
	return total
}
