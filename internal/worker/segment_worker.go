package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kit0ra/SCDownloader/internal/domain"
	"github.com/kit0ra/SCDownloader/internal/handler"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
	"github.com/kit0ra/SCDownloader/internal/service"
)

// DownloadService runs a single asset download.
type DownloadService interface {
	Download(ctx context.Context, job service.Job) (*service.Result, error)
}

// DownloadPayload is the request payload accepted by SegmentWorker.
// A payload that is a bare JSON string is taken as the asset id.
type DownloadPayload struct {
	AssetID     string `json:"asset_id,omitempty"`
	URL         string `json:"url,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	Title       string `json:"title,omitempty"`
	AllowGaps   bool   `json:"allow_gaps,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare string.
func (p *DownloadPayload) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*p = DownloadPayload{AssetID: id}
		return nil
	}

	type plain DownloadPayload
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = DownloadPayload(v)
	return nil
}

// Input returns the asset id, falling back to the page URL.
func (p DownloadPayload) Input() string {
	if id := strings.TrimSpace(p.AssetID); id != "" {
		return id
	}
	return strings.TrimSpace(p.URL)
}

// DownloadResult is the response data of a successful download.
type DownloadResult struct {
	RunID      string `json:"run_id"`
	AssetID    string `json:"asset_id"`
	Path       string `json:"path"`
	Bytes      int64  `json:"bytes"`
	Segments   int    `json:"segments"`
	Gaps       []int  `json:"gaps,omitempty"`
	Groups     int    `json:"groups"`
	ObjectKey  string `json:"object_key,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// SegmentWorker implements handler.Worker on top of the segment downloader.
type SegmentWorker struct {
	downloads DownloadService
	dirs      []string
	logger    types.Logger
	metrics   types.Metrics
}

// NewSegmentWorker creates a worker. dirs are checked for writability by
// Health.
func NewSegmentWorker(downloads DownloadService, logger types.Logger, metrics types.Metrics, dirs ...string) *SegmentWorker {
	return &SegmentWorker{
		downloads: downloads,
		dirs:      dirs,
		logger:    logger,
		metrics:   metrics,
	}
}

// Name returns the worker name
func (w *SegmentWorker) Name() string {
	return "segment-downloader"
}

// Process handles one download request.
func (w *SegmentWorker) Process(ctx context.Context, request handler.Request) (handler.Response, error) {
	w.metrics.StartOperation("worker_process")
	defer w.metrics.EndOperation("worker_process")

	startTime := time.Now()
	defer func() {
		w.metrics.RecordDuration("worker_process", time.Since(startTime).Seconds())
	}()

	var payload DownloadPayload
	if err := request.Unmarshal(&payload); err != nil {
		w.metrics.RecordError("worker_process", "invalid_payload")
		w.logger.Error(ctx, "Failed to parse request payload", err, types.Fields{
			"request_id": request.ID,
		})
		return handler.NewErrorResponse(
			request.ID,
			"INVALID_PAYLOAD",
			"Failed to parse download request",
			err.Error(),
		), nil
	}

	input := payload.Input()
	if input == "" {
		w.metrics.RecordError("worker_process", "invalid_payload")
		return handler.NewErrorResponse(
			request.ID,
			domain.CodeInvalidAssetID,
			"asset_id or url is required",
			"",
		), nil
	}

	w.logger.Info(ctx, "Processing download request", types.Fields{
		"request_id": request.ID,
		"input":      input,
		"resolution": payload.Resolution,
	})

	result, err := w.downloads.Download(ctx, service.Job{
		Input:       input,
		Resolution:  payload.Resolution,
		Concurrency: payload.Concurrency,
		Title:       payload.Title,
		AllowGaps:   payload.AllowGaps,
	})
	if err != nil {
		return w.errorResponse(ctx, request.ID, input, err), nil
	}

	data := DownloadResult{
		RunID:      result.RunID,
		AssetID:    result.AssetID,
		Groups:     result.Groups,
		ObjectKey:  result.ObjectKey,
		DurationMS: result.Duration.Milliseconds(),
	}
	if a := result.Artifact; a != nil {
		data.Path = a.Path
		data.Bytes = a.TotalBytes
		data.Segments = a.Segments
		data.Gaps = a.Gaps
	}

	response, err := handler.NewSuccessResponse(request.ID, data)
	if err != nil {
		w.metrics.RecordError("worker_process", "response_creation")
		return handler.NewErrorResponse(
			request.ID,
			"RESPONSE_ERROR",
			"Failed to create response",
			err.Error(),
		), nil
	}
	response.Metadata["run_id"] = result.RunID
	response.Metadata["asset_id"] = result.AssetID

	w.metrics.RecordSuccess("worker_process")
	w.logger.Info(ctx, "Request processed successfully", types.Fields{
		"request_id": request.ID,
		"path":       data.Path,
		"segments":   data.Segments,
	})

	return response, nil
}

func (w *SegmentWorker) errorResponse(ctx context.Context, requestID, input string, err error) handler.Response {
	resp := handler.ErrorResponseFor(requestID, err)

	w.metrics.RecordError("worker_process", strings.ToLower(resp.Error.Code))
	if resp.Error.Retryable {
		w.metrics.RecordError("worker_retryable", resp.Error.Code)
	}
	w.logger.Error(ctx, "Download failed", err, types.Fields{
		"request_id": requestID,
		"input":      input,
		"code":       resp.Error.Code,
	})

	return resp
}

// Health verifies that every configured directory can be written to.
func (w *SegmentWorker) Health(ctx context.Context) error {
	for _, dir := range w.dirs {
		if err := checkWritable(dir); err != nil {
			w.metrics.RecordError("health_check", "directory")
			return err
		}
	}
	w.metrics.RecordSuccess("health_check")
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("directory %s is not usable: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
