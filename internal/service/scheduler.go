package service

import (
	"context"
	"os"
	"sync"

	"github.com/kit0ra/SCDownloader/internal/domain"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// Scheduler runs fetches in lock-step groups and stops after the group in
// which the asset ended.
type Scheduler struct {
	fetcher Fetcher
	logger  types.Logger
	metrics types.Metrics
}

// NewScheduler creates a scheduler over fetcher.
func NewScheduler(fetcher Fetcher, logger types.Logger, metrics types.Metrics) *Scheduler {
	return &Scheduler{
		fetcher: fetcher,
		logger:  logger,
		metrics: metrics,
	}
}

// Run fetches segments in consecutive groups of concurrency. A group is
// started only when the previous one has fully settled. Cancellation is
// observed between groups.
func (s *Scheduler) Run(ctx context.Context, segments []domain.SegmentDescriptor, concurrency int, stagingDir string, progress domain.ProgressFunc) domain.DownloadBatch {
	if concurrency < 1 {
		concurrency = 1
	}

	var batch domain.DownloadBatch

	for start := 0; start < len(segments); start += concurrency {
		if err := ctx.Err(); err != nil {
			s.logger.Warn(ctx, "Download cancelled", types.Fields{
				"next_index": segments[start].Index,
				"error":      err.Error(),
			})
			break
		}

		end := min(start+concurrency, len(segments))
		group := s.runGroup(ctx, segments[start:end], stagingDir, progress)
		batch.Groups++

		cut := firstForbidden(group)
		if cut < 0 {
			batch.Outcomes = append(batch.Outcomes, group...)
			continue
		}

		batch.Outcomes = append(batch.Outcomes, group[:cut+1]...)
		batch.Terminated = true

		for _, late := range group[cut+1:] {
			if late.Succeeded() {
				if err := os.Remove(late.Path); err != nil && !os.IsNotExist(err) {
					s.logger.Warn(ctx, "Failed to remove segment past end of asset", types.Fields{
						"index": late.Segment.Index,
						"path":  late.Path,
						"error": err.Error(),
					})
				}
			}
		}

		s.logger.Info(ctx, "End of asset reached", types.Fields{
			"last_index": group[cut].Segment.Index - 1,
			"groups":     batch.Groups,
		})
		break
	}

	return batch
}

// runGroup fetches a group concurrently. Outcomes are stored by position, so
// the result is in descriptor order whatever the completion order.
func (s *Scheduler) runGroup(ctx context.Context, group []domain.SegmentDescriptor, stagingDir string, progress domain.ProgressFunc) []domain.FetchOutcome {
	s.metrics.StartOperation("group")
	defer s.metrics.EndOperation("group")

	outcomes := make([]domain.FetchOutcome, len(group))

	var wg sync.WaitGroup
	wg.Add(len(group))
	for i, seg := range group {
		go func(i int, seg domain.SegmentDescriptor) {
			defer wg.Done()
			outcomes[i] = s.fetcher.Fetch(ctx, seg, stagingDir, progress)
		}(i, seg)
	}
	wg.Wait()

	return outcomes
}

func firstForbidden(outcomes []domain.FetchOutcome) int {
	for i, o := range outcomes {
		if o.Status == domain.StatusForbidden {
			return i
		}
	}
	return -1
}
