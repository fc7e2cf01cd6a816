package handler

import (
	"context"

	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/observability"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

type contextKey string

const (
	workerKey   contextKey = "worker"
	platformKey contextKey = "platform"
)

// Handler wraps a Worker with middleware, a timeout and request context.
type Handler struct {
	worker      Worker
	obs         observability.Provider
	middlewares []Middleware
	config      *config.HandlerConfig
}

// Middleware wraps a HandlerFunc to add cross-cutting concerns.
type Middleware func(next HandlerFunc) HandlerFunc

// HandlerFunc is the function signature for handling requests.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// NewHandler creates a new handler with the given worker and configuration.
// Most callers should use the Factory instead.
func NewHandler(worker Worker, provider observability.Provider, cfg *config.HandlerConfig) *Handler {
	return &Handler{
		worker:      worker,
		obs:         provider,
		config:      cfg,
		middlewares: []Middleware{},
	}
}

// Use adds middleware to the handler chain.
// Middleware is executed in the order it's added.
func (h *Handler) Use(middleware Middleware) {
	h.middlewares = append(h.middlewares, middleware)
}

// Handle processes a request through the middleware chain and worker.
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	handler := h.buildHandlerChain()

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	ctx = context.WithValue(ctx, types.RequestIDKey, req.ID)
	ctx = context.WithValue(ctx, workerKey, h.worker.Name())
	ctx = context.WithValue(ctx, platformKey, h.config.Platform)

	return handler(ctx, req)
}

// buildHandlerChain applies middleware in reverse order so that the first
// middleware added is the outermost layer.
func (h *Handler) buildHandlerChain() HandlerFunc {
	handler := h.workerHandler

	for i := len(h.middlewares) - 1; i >= 0; i-- {
		handler = h.middlewares[i](handler)
	}

	return handler
}

func (h *Handler) workerHandler(ctx context.Context, req Request) (Response, error) {
	return h.worker.Process(ctx, req)
}

// Health checks the health of the worker and handler.
func (h *Handler) Health(ctx context.Context) error {
	return h.worker.Health(ctx)
}

// Config returns the handler configuration.
func (h *Handler) Config() *config.HandlerConfig {
	return h.config
}

// Worker returns the underlying worker.
func (h *Handler) Worker() Worker {
	return h.worker
}

// WorkerName returns the worker name stored in ctx by Handle.
func WorkerName(ctx context.Context) string {
	name, _ := ctx.Value(workerKey).(string)
	return name
}

// Platform returns the platform name stored in ctx by Handle.
func Platform(ctx context.Context) string {
	platform, _ := ctx.Value(platformKey).(string)
	return platform
}
