package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kit0ra/SCDownloader/internal/handler"
)

// healthPaths are answered with the worker's health status.
var healthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/live", "/livez"}

// HTTPAdapter serves download jobs over HTTP, together with health checks
// and the Prometheus metrics endpoint.
type HTTPAdapter struct {
	handler *handler.Handler
	mux     *http.ServeMux
}

// NewHTTPAdapter creates a new HTTP adapter with the provided handler.
func NewHTTPAdapter(h *handler.Handler) *HTTPAdapter {
	a := &HTTPAdapter{
		handler: h,
		mux:     http.NewServeMux(),
	}

	for _, p := range healthPaths {
		a.mux.HandleFunc(p, a.handleHealth)
	}
	a.mux.Handle("/metrics", promhttp.Handler())
	a.mux.HandleFunc("/", a.handleJob)

	return a
}

// ServeHTTP implements the http.Handler interface.
func (a *HTTPAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// handleJob runs one download job from a POST body.
func (a *HTTPAdapter) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		a.writeErrorResponse(w, http.StatusMethodNotAllowed, handler.NewErrorResponse(
			uuid.New().String(),
			"INVALID_REQUEST",
			"Only POST is supported",
			r.Method,
		))
		return
	}

	body, err := a.readBody(r)
	if err != nil {
		a.writeErrorResponse(w, http.StatusBadRequest, handler.NewErrorResponse(
			uuid.New().String(),
			"INVALID_REQUEST",
			"Failed to read request body",
			err.Error(),
		))
		return
	}

	resp, err := a.handler.Handle(r.Context(), a.buildRequest(r, body))
	a.writeResponse(w, resp, err)
}

func (a *HTTPAdapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := a.handler.Health(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"worker": a.handler.Worker().Name(),
		"time":   time.Now().UTC(),
	})
}

func (a *HTTPAdapter) readBody(r *http.Request) ([]byte, error) {
	maxSize := a.handler.Config().MaxRequestSize
	if maxSize <= 0 {
		maxSize = 1024 * 1024
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxSize)
	defer r.Body.Close()

	return io.ReadAll(r.Body)
}

func (a *HTTPAdapter) buildRequest(r *http.Request, body []byte) handler.Request {
	requestID := a.extractRequestID(r)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	return handler.Request{
		ID:        requestID,
		Source:    "http",
		Type:      a.extractRequestType(r),
		Payload:   json.RawMessage(body),
		Metadata:  a.extractMetadata(r),
		Timestamp: time.Now().UTC(),
	}
}

func (a *HTTPAdapter) extractRequestID(r *http.Request) string {
	for _, header := range []string{"X-Request-ID", "X-Correlation-ID", "Request-ID"} {
		if id := r.Header.Get(header); id != "" {
			return id
		}
	}
	return ""
}

// extractRequestType uses the X-Request-Type header, then the first path
// segment, and defaults to "download".
func (a *HTTPAdapter) extractRequestType(r *http.Request) string {
	if reqType := r.Header.Get("X-Request-Type"); reqType != "" {
		return reqType
	}

	path := strings.Trim(r.URL.Path, "/")
	if path != "" {
		if idx := strings.Index(path, "/"); idx > 0 {
			return path[:idx]
		}
		return path
	}

	return "download"
}

func (a *HTTPAdapter) extractMetadata(r *http.Request) map[string]string {
	metadata := map[string]string{
		"http_method": r.Method,
		"http_path":   r.URL.Path,
		"http_host":   r.Host,
	}

	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			metadata["query_"+key] = values[0]
		}
	}

	for _, header := range []string{"Content-Type", "User-Agent", "X-Forwarded-For"} {
		if value := r.Header.Get(header); value != "" {
			metadata["header_"+strings.ToLower(strings.ReplaceAll(header, "-", "_"))] = value
		}
	}

	return metadata
}

func (a *HTTPAdapter) writeResponse(w http.ResponseWriter, resp handler.Response, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", resp.ID)

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(handler.NewErrorResponse(
			resp.ID,
			"INTERNAL_ERROR",
			"Request processing failed",
			err.Error(),
		))
		return
	}

	w.WriteHeader(determineStatusCode(resp))
	json.NewEncoder(w).Encode(resp)
}

func (a *HTTPAdapter) writeErrorResponse(w http.ResponseWriter, status int, resp handler.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", resp.ID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// determineStatusCode maps response error codes to HTTP status codes
func determineStatusCode(resp handler.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	if resp.Error == nil {
		return http.StatusInternalServerError
	}

	switch resp.Error.Code {
	case "VALIDATION_ERROR", "INVALID_REQUEST", "INVALID_ASSET_ID", "INVALID_RESOLUTION":
		return http.StatusBadRequest
	case "NO_SEGMENTS":
		return http.StatusNotFound
	case "INCOMPLETE_ASSET", "STORAGE_FAILED":
		return http.StatusBadGateway
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func (a *HTTPAdapter) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
