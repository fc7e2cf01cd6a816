package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kit0ra/SCDownloader/internal/domain"
)

// MockFetcher is a mock implementation of service.Fetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, seg domain.SegmentDescriptor, stagingDir string, progress domain.ProgressFunc) domain.FetchOutcome {
	args := m.Called(ctx, seg, stagingDir, progress)
	return args.Get(0).(domain.FetchOutcome)
}
