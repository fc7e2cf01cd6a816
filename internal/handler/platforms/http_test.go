package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/handler"
	"github.com/kit0ra/SCDownloader/internal/handler/mocks"
	obmocks "github.com/kit0ra/SCDownloader/internal/observability/mocks"
)

func newTestHandler(worker handler.Worker) *handler.Handler {
	return handler.NewFactory(worker, obmocks.NewNopProvider()).
		WithHandlerConfig(config.HandlerConfig{Timeout: 5 * time.Second, MaxRequestSize: 1024}).
		CreateHTTP()
}

func TestHTTPAdapter_ServeHTTP(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		worker := &mocks.MockWorker{}
		worker.On("Name").Return("segment-downloader")
		worker.On("Process", mock.Anything, mock.MatchedBy(func(req handler.Request) bool {
			return req.Type == "download" && req.Source == "http" && req.ID == "test-123"
		})).Return(handler.Response{
			ID:      "test-123",
			Success: true,
			Data:    json.RawMessage(`{"path":"downloads/abc.ts"}`),
		}, nil)

		adapter := NewHTTPAdapter(newTestHandler(worker))

		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"asset_id":"abc"}`))
		req.Header.Set("X-Request-ID", "test-123")
		w := httptest.NewRecorder()
		adapter.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "test-123", w.Header().Get("X-Request-ID"))

		var resp handler.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		worker.AssertExpectations(t)
	})

	t.Run("domain failure maps to status", func(t *testing.T) {
		worker := &mocks.MockWorker{}
		worker.On("Name").Return("segment-downloader")
		worker.On("Process", mock.Anything, mock.Anything).
			Return(handler.NewErrorResponse("r", "NO_SEGMENTS", "No segments", ""), nil)

		adapter := NewHTTPAdapter(newTestHandler(worker))

		w := httptest.NewRecorder()
		adapter.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/download", bytes.NewBufferString(`{"asset_id":"x"}`)))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		worker := &mocks.MockWorker{}
		adapter := NewHTTPAdapter(newTestHandler(worker))

		w := httptest.NewRecorder()
		adapter.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		worker.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	})

	t.Run("body too large", func(t *testing.T) {
		worker := &mocks.MockWorker{}
		adapter := NewHTTPAdapter(newTestHandler(worker))

		w := httptest.NewRecorder()
		adapter.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(make([]byte, 4096))))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("health check", func(t *testing.T) {
		worker := &mocks.MockWorker{}
		worker.On("Name").Return("segment-downloader")
		worker.On("Health", mock.Anything).Return(nil)

		adapter := NewHTTPAdapter(newTestHandler(worker))

		w := httptest.NewRecorder()
		adapter.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "segment-downloader", body["worker"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		worker := &mocks.MockWorker{}
		worker.On("Health", mock.Anything).Return(errors.New("staging dir not writable"))

		adapter := NewHTTPAdapter(newTestHandler(worker))

		w := httptest.NewRecorder()
		adapter.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		adapter := NewHTTPAdapter(newTestHandler(&mocks.MockWorker{}))

		w := httptest.NewRecorder()
		adapter.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})
}

func TestDetermineStatusCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"INVALID_ASSET_ID", http.StatusBadRequest},
		{"INVALID_RESOLUTION", http.StatusBadRequest},
		{"NO_SEGMENTS", http.StatusNotFound},
		{"INCOMPLETE_ASSET", http.StatusBadGateway},
		{"TIMEOUT", http.StatusGatewayTimeout},
		{"ASSEMBLY_IO", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, determineStatusCode(handler.NewErrorResponse("id", tt.code, "", "")))
		})
	}

	assert.Equal(t, http.StatusOK, determineStatusCode(handler.Response{Success: true}))
}

func TestHTTPAdapter_Serve(t *testing.T) {
	adapter := NewHTTPAdapter(newTestHandler(&mocks.MockWorker{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- adapter.Serve(ctx, "127.0.0.1:0")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
