package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/kit0ra/SCDownloader/internal/adapters/http"
	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/domain"
	obmocks "github.com/kit0ra/SCDownloader/internal/observability/mocks"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
	storagemocks "github.com/kit0ra/SCDownloader/internal/storage/mocks"
)

// segmentServer serves /{asset}/HIDDEN{code}-{index}.ts. Indices present in
// payloads answer 200, indices in failing answer 500, everything else 403.
func segmentServer(t *testing.T, payloads map[int]string, failing map[int]bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var asset string
		var code, index int
		base := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		asset = strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")[0]
		if _, err := fmt.Sscanf(base, "HIDDEN%d-%05d.ts", &code, &index); err != nil || asset == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if failing[index] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, ok := payloads[index]
		if !ok {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

type downloaderFixture struct {
	downloader *Downloader
	staging    string
	output     string
}

func newDownloaderFixture(t *testing.T, server *httptest.Server, allowGaps bool) downloaderFixture {
	t.Helper()
	staging := filepath.Join(t.TempDir(), "staging")
	output := filepath.Join(t.TempDir(), "out")

	logger := obmocks.NewNopLogger()
	metrics := obmocks.NewNopMetrics()

	template := domain.SourceTemplate{BaseHost: server.URL, Tag: "HIDDEN", Extension: "ts", MaxSegments: 20}
	settings := config.DownloadConfig{
		Concurrency:    2,
		MaxConcurrency: 4,
		Resolution:     "low",
		StagingDir:     staging,
		OutputDir:      output,
		AllowGaps:      allowGaps,
	}

	fetcher := NewSegmentFetcher(httpadapter.NewClient(), "ts", logger, metrics)
	d := NewDownloader(template, settings,
		NewScheduler(fetcher, logger, metrics),
		NewAssembler(logger, metrics),
		logger, metrics)

	return downloaderFixture{downloader: d, staging: staging, output: output}
}

func assertStagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "run directory removed")
}

func TestDownloader_Download(t *testing.T) {
	server := segmentServer(t, map[int]string{1: "aaa", 2: "bbbb", 3: "cc"}, nil)
	fx := newDownloaderFixture(t, server, false)

	result, err := fx.downloader.Download(context.Background(), Job{Input: "vid42"})
	require.NoError(t, err)

	assert.Equal(t, "vid42", result.AssetID)
	assert.NotEmpty(t, result.RunID)
	assert.True(t, result.Terminated)
	assert.Equal(t, 2, result.Groups)
	assert.Equal(t, filepath.Join(fx.output, "vid42.ts"), result.Artifact.Path)
	assert.Equal(t, int64(9), result.Artifact.TotalBytes)
	assert.Equal(t, 3, result.Artifact.Segments)

	data, err := os.ReadFile(result.Artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, "aaabbbbcc", string(data))

	assertStagingEmpty(t, fx.staging)
}

func TestDownloader_DerivesIDFromURLAndUsesTitle(t *testing.T) {
	server := segmentServer(t, map[int]string{1: "x"}, nil)
	fx := newDownloaderFixture(t, server, false)

	result, err := fx.downloader.Download(context.Background(), Job{
		Input: "https://site.example/watch/vid7/some-slug",
		Title: "Episode 1: Pilot?",
	})
	require.NoError(t, err)

	assert.Equal(t, "vid7", result.AssetID)
	assert.Equal(t, filepath.Join(fx.output, "Episode 1 Pilot.ts"), result.Artifact.Path)
}

func TestDownloader_TitleLookup(t *testing.T) {
	server := segmentServer(t, map[int]string{1: "x"}, nil)
	fx := newDownloaderFixture(t, server, false)
	fx.downloader.WithTitleLookup(func(ctx context.Context, assetID string) (string, bool) {
		return "Looked up " + assetID, true
	})

	result, err := fx.downloader.Download(context.Background(), Job{Input: "abc"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fx.output, "Looked up abc.ts"), result.Artifact.Path)
}

func TestDownloader_GapsAreFatalByDefault(t *testing.T) {
	server := segmentServer(t, map[int]string{1: "a", 3: "c"}, map[int]bool{2: true})
	fx := newDownloaderFixture(t, server, false)

	result, err := fx.downloader.Download(context.Background(), Job{Input: "vid"})

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIncompleteAsset))

	entries, readErr := os.ReadDir(fx.output)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
	assertStagingEmpty(t, fx.staging)
}

func TestDownloader_AllowGaps(t *testing.T) {
	server := segmentServer(t, map[int]string{1: "a", 3: "c"}, map[int]bool{2: true})
	fx := newDownloaderFixture(t, server, false)

	result, err := fx.downloader.Download(context.Background(), Job{Input: "vid", AllowGaps: true})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, result.Artifact.Gaps)
	data, err := os.ReadFile(result.Artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, "ac", string(data))
}

func TestDownloader_NoSegments(t *testing.T) {
	server := segmentServer(t, nil, nil)
	fx := newDownloaderFixture(t, server, false)

	_, err := fx.downloader.Download(context.Background(), Job{Input: "vid"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoSegments))
	_, statErr := os.Stat(filepath.Join(fx.output, "vid.ts"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloader_InvalidInput(t *testing.T) {
	server := segmentServer(t, nil, nil)
	fx := newDownloaderFixture(t, server, false)

	_, err := fx.downloader.Download(context.Background(), Job{Input: "vid", Resolution: "8k"})
	assert.True(t, errors.Is(err, domain.ErrInvalidResolution))

	_, err = fx.downloader.Download(context.Background(), Job{Input: "  "})
	assert.True(t, errors.Is(err, domain.ErrInvalidAssetID))
}

func TestDownloader_RejectsConcurrencyAboveMax(t *testing.T) {
	server := segmentServer(t, map[int]string{1: "a"}, nil)
	fx := newDownloaderFixture(t, server, false)

	_, err := fx.downloader.Download(context.Background(), Job{Input: "vid", Concurrency: 1000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidConcurrency))
	assert.Contains(t, err.Error(), "maximum is 4")

	_, statErr := os.Stat(fx.staging)
	assert.True(t, os.IsNotExist(statErr), "no run directory is created")

	result, err := fx.downloader.Download(context.Background(), Job{Input: "vid", Concurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Artifact.Segments)
}

func TestDownloader_Cancelled(t *testing.T) {
	server := segmentServer(t, map[int]string{1: "a"}, nil)
	fx := newDownloaderFixture(t, server, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.downloader.Download(ctx, Job{Input: "vid"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assertStagingEmpty(t, fx.staging)
}

func TestDownloader_Publishes(t *testing.T) {
	server := segmentServer(t, map[int]string{1: "a", 2: "b"}, nil)
	fx := newDownloaderFixture(t, server, false)

	store := &storagemocks.MockObjectStorage{}
	store.On("Put", mock.Anything, "bucket", "assets/vid.ts", mock.Anything, mock.Anything).Return(nil)
	fx.downloader.WithPublisher(NewPublisher(store, "bucket", "assets", true,
		obmocks.NewNopLogger(), obmocks.NewNopMetrics()))

	result, err := fx.downloader.Download(context.Background(), Job{Input: "vid"})
	require.NoError(t, err)
	assert.Equal(t, "assets/vid.ts", result.ObjectKey)
	store.AssertExpectations(t)
}

func TestProgressTracker(t *testing.T) {
	var logged []types.Fields
	logger := &obmocks.MockLogger{}
	logger.On("Info", mock.Anything, "Download progress", mock.Anything).
		Run(func(args mock.Arguments) {
			logged = append(logged, args.Get(2).(types.Fields))
		}).Return()

	tracker := newProgressTracker(context.Background(), logger, 0)
	tracker.observe(domain.ProgressEvent{Index: 1, Received: 10, Total: -1, Percent: -1})
	tracker.observe(domain.ProgressEvent{Index: 2, Received: 5, Total: 10, Percent: 50})

	require.Len(t, logged, 2)
	assert.NotContains(t, logged[0], "segment_percent")
	assert.Equal(t, 2, logged[1]["segments"])
	assert.Equal(t, "50.0", logged[1]["segment_percent"])
	assert.Equal(t, int64(15), tracker.snapshot())
}

func TestProgressTracker_Throttles(t *testing.T) {
	logger := &obmocks.MockLogger{}

	tracker := newProgressTracker(context.Background(), logger, time.Hour)
	for i := 1; i <= 5; i++ {
		tracker.observe(domain.ProgressEvent{Index: i, Received: 1, Total: -1, Percent: -1})
	}

	logger.AssertNotCalled(t, "Info", mock.Anything, "Download progress", mock.Anything)
	assert.Equal(t, int64(5), tracker.snapshot())
}
