package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kit0ra/SCDownloader/internal/domain"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// Fetcher downloads a single segment into a staging directory.
type Fetcher interface {
	Fetch(ctx context.Context, seg domain.SegmentDescriptor, stagingDir string, progress domain.ProgressFunc) domain.FetchOutcome
}

// StagingFileName is the name a segment is stored under, derived from its
// index only.
func StagingFileName(index int, ext string) string {
	return fmt.Sprintf("segment-%05d.%s", index, ext)
}

// SegmentFetcher streams one segment to disk through a .part file.
type SegmentFetcher struct {
	httpClient domain.HTTPClient
	extension  string
	logger     types.Logger
	metrics    types.Metrics
}

// NewSegmentFetcher creates a fetcher writing files with the given extension.
func NewSegmentFetcher(
	httpClient domain.HTTPClient,
	extension string,
	logger types.Logger,
	metrics types.Metrics,
) *SegmentFetcher {
	return &SegmentFetcher{
		httpClient: httpClient,
		extension:  extension,
		logger:     logger,
		metrics:    metrics,
	}
}

// Fetch performs one GET without retrying. The returned outcome is Success
// only once the staging file is complete, synced and renamed in place.
func (f *SegmentFetcher) Fetch(ctx context.Context, seg domain.SegmentDescriptor, stagingDir string, progress domain.ProgressFunc) domain.FetchOutcome {
	f.metrics.StartOperation("segment")
	defer f.metrics.EndOperation("segment")
	startTime := time.Now()
	defer func() {
		f.metrics.RecordDuration("segment", time.Since(startTime).Seconds())
	}()

	outcome := domain.FetchOutcome{Segment: seg}

	body, headers, err := f.httpClient.Download(ctx, seg.URL, nil)
	if err != nil {
		if isEndOfAsset(err) {
			outcome.Status = domain.StatusForbidden
			outcome.Err = domain.NewDomainError(
				domain.ErrTerminalFetch.Code,
				domain.ErrTerminalFetch.Message,
				err,
				false,
			)
			f.metrics.RecordError("segment", "forbidden")
			f.logger.Debug(ctx, "Segment not available", types.Fields{
				"index": seg.Index,
				"url":   seg.URL,
			})
			return outcome
		}
		return f.transient(ctx, outcome, err)
	}
	defer body.Close()

	total := contentLength(headers)
	finalPath := filepath.Join(stagingDir, StagingFileName(seg.Index, f.extension))

	written, err := f.writeStaging(body, finalPath, seg.Index, total, progress)
	if err != nil {
		return f.transient(ctx, outcome, err)
	}

	outcome.Status = domain.StatusSuccess
	outcome.Path = finalPath
	outcome.Bytes = written

	f.metrics.RecordSuccess("segment")
	f.metrics.RecordFileSize(f.extension, written)
	f.logger.Debug(ctx, "Segment downloaded", types.Fields{
		"index": seg.Index,
		"bytes": written,
		"path":  finalPath,
	})

	return outcome
}

func (f *SegmentFetcher) transient(ctx context.Context, outcome domain.FetchOutcome, cause error) domain.FetchOutcome {
	outcome.Status = domain.StatusTransient
	outcome.Err = domain.NewDomainError(
		domain.ErrTransientFetch.Code,
		domain.ErrTransientFetch.Message,
		cause,
		true,
	)
	f.metrics.RecordError("segment", "transient")
	f.logger.Warn(ctx, "Segment fetch failed", types.Fields{
		"index": outcome.Segment.Index,
		"url":   outcome.Segment.URL,
		"error": cause.Error(),
	})
	return outcome
}

// writeStaging copies body into path+".part", syncs it and renames it to
// path. The .part file never survives a failure.
func (f *SegmentFetcher) writeStaging(body io.Reader, path string, index int, total int64, progress domain.ProgressFunc) (int64, error) {
	partPath := path + ".part"

	file, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create staging file: %w", err)
	}

	written, err := io.Copy(file, &progressReader{
		reader:   body,
		index:    index,
		total:    total,
		progress: progress,
	})
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("failed to write segment %d: %w", index, err)
	}

	if err := os.Rename(partPath, path); err != nil {
		os.Remove(partPath)
		return 0, fmt.Errorf("failed to finalize segment %d: %w", index, err)
	}

	return written, nil
}

// isEndOfAsset reports whether err means the segment does not exist.
func isEndOfAsset(err error) bool {
	var statusErr *domain.HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusForbidden || statusErr.StatusCode == http.StatusNotFound
}

func contentLength(headers map[string]string) int64 {
	raw, ok := headers["Content-Length"]
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// progressReader reports the running byte count of one segment.
type progressReader struct {
	reader   io.Reader
	index    int
	received int64
	total    int64
	progress domain.ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.received += int64(n)
		if r.progress != nil {
			r.progress(r.event())
		}
	}
	return n, err
}

func (r *progressReader) event() domain.ProgressEvent {
	ev := domain.ProgressEvent{
		Index:    r.index,
		Received: r.received,
		Total:    r.total,
		Percent:  -1,
	}
	if r.total > 0 {
		ev.Percent = float64(r.received) / float64(r.total) * 100
	}
	return ev
}
