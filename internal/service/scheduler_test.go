package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kit0ra/SCDownloader/internal/domain"
	obmocks "github.com/kit0ra/SCDownloader/internal/observability/mocks"
)

func newTestScheduler(f Fetcher) *Scheduler {
	return NewScheduler(f, obmocks.NewNopLogger(), obmocks.NewNopMetrics())
}

func indices(outcomes []domain.FetchOutcome) []int {
	out := make([]int, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Segment.Index
	}
	return out
}

func TestScheduler_AllSucceed(t *testing.T) {
	fetcher := newScriptedFetcher()

	batch := newTestScheduler(fetcher).Run(context.Background(), descriptors(7), 3, t.TempDir(), nil)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, indices(batch.Outcomes))
	assert.Equal(t, 3, batch.Groups)
	assert.False(t, batch.Terminated)
	assert.Len(t, batch.Successes(), 7)
}

func TestScheduler_StopsAfterForbiddenGroup(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.statuses[3] = domain.StatusForbidden
	fetcher.statuses[4] = domain.StatusForbidden
	fetcher.statuses[5] = domain.StatusForbidden

	batch := newTestScheduler(fetcher).Run(context.Background(), descriptors(5), 2, t.TempDir(), nil)

	require.Len(t, batch.Outcomes, 3)
	assert.Equal(t, []int{1, 2, 3}, indices(batch.Outcomes))
	assert.Equal(t, domain.StatusSuccess, batch.Outcomes[0].Status)
	assert.Equal(t, domain.StatusSuccess, batch.Outcomes[1].Status)
	assert.Equal(t, domain.StatusForbidden, batch.Outcomes[2].Status)
	assert.Equal(t, 2, batch.Groups)
	assert.True(t, batch.Terminated)
	// segment 5 belongs to a group that was never started
	assert.Equal(t, 4, fetcher.callCount())
}

func TestScheduler_DropsSuccessesAfterForbidden(t *testing.T) {
	dir := t.TempDir()
	fetcher := newScriptedFetcher()
	fetcher.statuses[2] = domain.StatusForbidden

	batch := newTestScheduler(fetcher).Run(context.Background(), descriptors(6), 3, dir, nil)

	assert.Equal(t, []int{1, 2}, indices(batch.Outcomes))
	assert.Equal(t, 1, batch.Groups)

	_, err := os.Stat(filepath.Join(dir, StagingFileName(3, "ts")))
	assert.True(t, os.IsNotExist(err), "segment past the end must be removed")
	_, err = os.Stat(filepath.Join(dir, StagingFileName(1, "ts")))
	assert.NoError(t, err)
}

func TestScheduler_TransientDoesNotStop(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.statuses[2] = domain.StatusTransient

	batch := newTestScheduler(fetcher).Run(context.Background(), descriptors(4), 2, t.TempDir(), nil)

	assert.Equal(t, []int{1, 2, 3, 4}, indices(batch.Outcomes))
	assert.Equal(t, []int{2}, batch.Gaps())
	assert.False(t, batch.Terminated)
}

func TestScheduler_OrderIndependentOfCompletion(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.delays[1] = 30 * time.Millisecond
	fetcher.delays[2] = 15 * time.Millisecond

	batch := newTestScheduler(fetcher).Run(context.Background(), descriptors(3), 3, t.TempDir(), nil)

	assert.Equal(t, []int{1, 2, 3}, indices(batch.Outcomes))
}

func TestScheduler_ClampsConcurrency(t *testing.T) {
	fetcher := newScriptedFetcher()

	batch := newTestScheduler(fetcher).Run(context.Background(), descriptors(3), 0, t.TempDir(), nil)

	assert.Equal(t, 3, batch.Groups)
	assert.Len(t, batch.Outcomes, 3)
}

func TestScheduler_CancelledBetweenGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := newScriptedFetcher()
	batch := newTestScheduler(fetcher).Run(ctx, descriptors(4), 2, t.TempDir(), nil)

	assert.Empty(t, batch.Outcomes)
	assert.Equal(t, 0, batch.Groups)
	assert.Equal(t, 0, fetcher.callCount())
}

func TestScheduler_EmptyInput(t *testing.T) {
	batch := newTestScheduler(newScriptedFetcher()).Run(context.Background(), nil, 3, t.TempDir(), nil)

	assert.Empty(t, batch.Outcomes)
	assert.Equal(t, 0, batch.Groups)
}

// trackingFetcher records how many fetches overlap and the order in which
// they start and finish.
type trackingFetcher struct {
	next     Fetcher
	inFlight atomic.Int32
	peak     atomic.Int32
	seq      atomic.Int64

	mu       sync.Mutex
	started  map[int]int64
	finished map[int]int64
}

func newTrackingFetcher(next Fetcher) *trackingFetcher {
	return &trackingFetcher{
		next:     next,
		started:  map[int]int64{},
		finished: map[int]int64{},
	}
}

func (f *trackingFetcher) Fetch(ctx context.Context, seg domain.SegmentDescriptor, stagingDir string, progress domain.ProgressFunc) domain.FetchOutcome {
	f.record(f.started, seg.Index)
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	time.Sleep(5 * time.Millisecond)
	outcome := f.next.Fetch(ctx, seg, stagingDir, progress)

	f.inFlight.Add(-1)
	f.record(f.finished, seg.Index)
	return outcome
}

func (f *trackingFetcher) record(m map[int]int64, index int) {
	at := f.seq.Add(1)
	f.mu.Lock()
	m[index] = at
	f.mu.Unlock()
}

func TestScheduler_LockStepGroups(t *testing.T) {
	const n, c = 10, 3

	fetcher := newTrackingFetcher(newScriptedFetcher())
	fetcher.next.(*scriptedFetcher).delays[2] = 20 * time.Millisecond
	fetcher.next.(*scriptedFetcher).delays[7] = 20 * time.Millisecond

	batch := newTestScheduler(fetcher).Run(context.Background(), descriptors(n), c, t.TempDir(), nil)

	require.Len(t, batch.Outcomes, n)
	assert.Equal(t, 4, batch.Groups)
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(c))
	assert.Equal(t, int32(c), fetcher.peak.Load(), "a full group runs concurrently")

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	require.Len(t, fetcher.started, n)
	require.Len(t, fetcher.finished, n)

	for first := 1; first+c <= n; first += c {
		var lastFinish int64
		for i := first; i < first+c; i++ {
			if fetcher.finished[i] > lastFinish {
				lastFinish = fetcher.finished[i]
			}
		}
		for i := first + c; i < first+2*c && i <= n; i++ {
			assert.Greater(t, fetcher.started[i], lastFinish,
				"segment %d started before the group starting at %d settled", i, first)
		}
	}
}
