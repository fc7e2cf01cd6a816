package handler

import (
	"context"
)

// Worker defines the interface that each worker must implement.
// Workers process requests and return responses without knowing about
// the underlying platform or transport mechanism.
type Worker interface {
	// Name returns the worker name for identification.
	Name() string

	// Process handles the actual work with platform-agnostic request/response.
	Process(ctx context.Context, request Request) (Response, error)

	// Health checks if the worker is healthy and ready to process requests.
	Health(ctx context.Context) error
}
