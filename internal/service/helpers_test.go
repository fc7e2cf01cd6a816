package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kit0ra/SCDownloader/internal/domain"
)

// scriptedFetcher returns a fixed status per index. Successful segments are
// written to the staging directory with the configured payload.
type scriptedFetcher struct {
	mu       sync.Mutex
	statuses map[int]domain.FetchStatus
	payloads map[int]string
	delays   map[int]time.Duration
	calls    []int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		statuses: map[int]domain.FetchStatus{},
		payloads: map[int]string{},
		delays:   map[int]time.Duration{},
	}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, seg domain.SegmentDescriptor, stagingDir string, progress domain.ProgressFunc) domain.FetchOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, seg.Index)
	status, ok := f.statuses[seg.Index]
	payload := f.payloads[seg.Index]
	delay := f.delays[seg.Index]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if !ok {
		status = domain.StatusSuccess
	}

	switch status {
	case domain.StatusForbidden:
		return domain.FetchOutcome{Segment: seg, Status: status, Err: domain.ErrTerminalFetch}
	case domain.StatusTransient:
		return domain.FetchOutcome{Segment: seg, Status: status, Err: errors.New("timeout")}
	}

	if payload == "" {
		payload = "x"
	}
	path := filepath.Join(stagingDir, StagingFileName(seg.Index, "ts"))
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		return domain.FetchOutcome{Segment: seg, Status: domain.StatusTransient, Err: err}
	}
	if progress != nil {
		progress(domain.ProgressEvent{Index: seg.Index, Received: int64(len(payload)), Total: -1, Percent: -1})
	}
	return domain.FetchOutcome{Segment: seg, Status: domain.StatusSuccess, Path: path, Bytes: int64(len(payload))}
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func descriptors(n int) []domain.SegmentDescriptor {
	segs := make([]domain.SegmentDescriptor, n)
	for i := range segs {
		segs[i] = domain.SegmentDescriptor{Index: i + 1, URL: "http://cdn/seg"}
	}
	return segs
}

// stageFile writes a staging file and returns a matching success outcome.
func stageFile(t *testing.T, dir string, index int, content []byte) domain.FetchOutcome {
	t.Helper()
	path := filepath.Join(dir, StagingFileName(index, "ts"))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return domain.FetchOutcome{
		Segment: domain.SegmentDescriptor{Index: index},
		Status:  domain.StatusSuccess,
		Path:    path,
		Bytes:   int64(len(content)),
	}
}
