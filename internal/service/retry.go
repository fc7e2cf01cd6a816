package service

import (
	"context"
	"math"
	"time"

	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/domain"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// RetryingFetcher retries transient outcomes of the wrapped fetcher with
// exponential backoff. Forbidden outcomes are returned at once.
type RetryingFetcher struct {
	next   Fetcher
	cfg    config.RetryConfig
	logger types.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingFetcher wraps next with the given policy.
func NewRetryingFetcher(next Fetcher, cfg config.RetryConfig, logger types.Logger) *RetryingFetcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	return &RetryingFetcher{
		next:   next,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Fetch implements Fetcher.
func (r *RetryingFetcher) Fetch(ctx context.Context, seg domain.SegmentDescriptor, stagingDir string, progress domain.ProgressFunc) domain.FetchOutcome {
	var outcome domain.FetchOutcome

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		outcome = r.next.Fetch(ctx, seg, stagingDir, progress)
		if outcome.Status != domain.StatusTransient {
			return outcome
		}

		// Don't sleep after last attempt
		if attempt == r.cfg.MaxAttempts-1 {
			break
		}

		backoff := calculateBackoff(attempt, r.cfg)
		r.logger.Debug(ctx, "Retrying segment", types.Fields{
			"index":   seg.Index,
			"attempt": attempt + 2,
			"backoff": backoff.String(),
		})

		if err := r.sleep(ctx, backoff); err != nil {
			break
		}
	}

	return outcome
}

func calculateBackoff(attempt int, cfg config.RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt))

	// Cap at max backoff
	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
