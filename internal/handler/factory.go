package handler

import (
	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/observability"
)

// Factory creates handlers with the standard middleware stack.
type Factory struct {
	worker     Worker
	provider   observability.Provider
	handlerCfg config.HandlerConfig
}

// NewFactory creates a new handler factory with default configuration.
func NewFactory(worker Worker, provider observability.Provider) *Factory {
	return &Factory{
		worker:     worker,
		provider:   provider,
		handlerCfg: config.DefaultHandlerConfig(),
	}
}

// WithHandlerConfig sets custom handler configuration.
func (f *Factory) WithHandlerConfig(cfg config.HandlerConfig) *Factory {
	f.handlerCfg = cfg
	return f
}

// Create creates a handler for the configured or detected platform.
func (f *Factory) Create() *Handler {
	if f.handlerCfg.Platform == "" || f.handlerCfg.Platform == "auto" {
		f.handlerCfg.Platform = DetectPlatform()
	}

	handler := NewHandler(f.worker, f.provider, &f.handlerCfg)
	f.applyDefaultMiddleware(handler)

	return handler
}

// CreateHTTP creates a handler for the HTTP server.
func (f *Factory) CreateHTTP() *Handler {
	f.handlerCfg.Platform = "http"
	return f.Create()
}

// CreateLambda creates a handler for AWS Lambda.
func (f *Factory) CreateLambda() *Handler {
	f.handlerCfg.Platform = "lambda"
	return f.Create()
}

// CreateCLI creates a handler for command line jobs.
func (f *Factory) CreateCLI() *Handler {
	f.handlerCfg.Platform = "cli"
	return f.Create()
}

func (f *Factory) applyDefaultMiddleware(handler *Handler) {
	if f.handlerCfg.Timeout > 0 {
		handler.Use(TimeoutMiddleware(f.handlerCfg.Timeout))
	}

	// Recovery runs inside the timeout goroutine so worker panics are caught
	handler.Use(RecoveryMiddleware(f.provider))

	handler.Use(MetricsMiddleware(f.provider))
	handler.Use(LoggingMiddleware(f.provider))
	handler.Use(ValidationMiddleware())
}

// DetectPlatform detects the runtime platform from the environment.
func DetectPlatform() string {
	if config.IsLambda() {
		return "lambda"
	}
	return "cli"
}
