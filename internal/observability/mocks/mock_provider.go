package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// MockProvider is a mock implementation of Provider interface
type MockProvider struct {
	mock.Mock
}

// Logger mocks the Logger method
func (m *MockProvider) Logger(component string) types.Logger {
	args := m.Called(component)
	return args.Get(0).(types.Logger)
}

// Metrics mocks the Metrics method
func (m *MockProvider) Metrics(component string) types.Metrics {
	args := m.Called(component)
	return args.Get(0).(types.Metrics)
}

// Close mocks the Close method
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NewNopProvider returns a MockProvider handing out loggers and metrics that
// accept every call.
func NewNopProvider() *MockProvider {
	m := &MockProvider{}
	m.On("Logger", mock.Anything).Return(NewNopLogger()).Maybe()
	m.On("Metrics", mock.Anything).Return(NewNopMetrics()).Maybe()
	m.On("Close").Return(nil).Maybe()
	return m
}
