package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kit0ra/SCDownloader/internal/handler"
)

// MockWorker is a mock implementation of handler.Worker
type MockWorker struct {
	mock.Mock
}

func (m *MockWorker) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockWorker) Process(ctx context.Context, request handler.Request) (handler.Response, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(handler.Response), args.Error(1)
}

func (m *MockWorker) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
