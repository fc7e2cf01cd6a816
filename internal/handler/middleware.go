package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/kit0ra/SCDownloader/internal/observability"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// outcome summarizes a finished request for logs and metrics.
type outcome struct {
	ok        bool
	code      string
	retryable bool
}

func outcomeOf(resp Response, err error) outcome {
	switch {
	case err != nil:
		r := ErrorResponseFor(resp.ID, err)
		return outcome{code: r.Error.Code, retryable: r.Error.Retryable}
	case resp.Success:
		return outcome{ok: true}
	case resp.Error != nil:
		return outcome{code: resp.Error.Code, retryable: resp.Error.Retryable}
	default:
		return outcome{code: "UNKNOWN_ERROR"}
	}
}

// LoggingMiddleware logs the start and the outcome of every job and stamps
// the response with its processing time.
func LoggingMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			logger := provider.Logger("handler").WithFields(types.Fields{
				"type":     req.Type,
				"source":   req.Source,
				"worker":   WorkerName(ctx),
				"platform": Platform(ctx),
			})
			logger.Info(ctx, "Job received", types.Fields{
				"payload_size": len(req.Payload),
			})

			start := time.Now()
			resp, err := next(ctx, req)
			resp.Duration = time.Since(start)

			fields := types.Fields{"duration_ms": resp.Duration.Milliseconds()}
			o := outcomeOf(resp, err)
			switch {
			case err != nil:
				logger.Error(ctx, "Job aborted", err, fields)
			case !o.ok:
				fields["error_code"] = o.code
				fields["retryable"] = o.retryable
				if resp.Error != nil {
					fields["error_msg"] = resp.Error.Message
				}
				logger.Warn(ctx, "Job failed", fields)
			default:
				logger.Info(ctx, "Job completed", fields)
			}

			return resp, err
		}
	}
}

// MetricsMiddleware counts jobs per worker, labelling failures with their
// error code.
func MetricsMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			metrics := provider.Metrics("handler")

			name := WorkerName(ctx)
			if name == "" {
				name = "unknown"
			}

			metrics.StartOperation(name)
			defer metrics.EndOperation(name)

			start := time.Now()
			resp, err := next(ctx, req)
			metrics.RecordDuration(name, time.Since(start).Seconds())

			if o := outcomeOf(resp, err); o.ok {
				metrics.RecordSuccess(name)
			} else {
				metrics.RecordError(name, o.code)
			}

			return resp, err
		}
	}
}

// RecoveryMiddleware turns a worker panic into an INTERNAL_ERROR response.
// It only catches panics raised on its own goroutine.
func RecoveryMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (resp Response, err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				provider.Logger("handler").Error(ctx, "Worker panicked", fmt.Errorf("%v", r), types.Fields{
					"worker": WorkerName(ctx),
					"stack":  string(debug.Stack()),
				})
				provider.Metrics("handler").RecordError("panic", "panic_recovered")

				resp = NewErrorResponse(req.ID, "INTERNAL_ERROR", "An internal error occurred", "")
				err = fmt.Errorf("panic recovered: %v", r)
			}()

			return next(ctx, req)
		}
	}
}

// TimeoutMiddleware bounds a job by timeout. The worker keeps running in
// the background until it observes the cancelled context.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp Response
				err  error
			}
			done := make(chan result, 1)

			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case res := <-done:
				return res.resp, res.err
			case <-ctx.Done():
				resp := ErrorResponseFor(req.ID, ctx.Err())
				resp.Error.Details = fmt.Sprintf("exceeded timeout of %v", timeout)
				return resp, ctx.Err()
			}
		}
	}
}

// ValidationMiddleware rejects requests without a JSON payload and fills in
// a missing ID and timestamp.
func ValidationMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			if req.ID == "" {
				req.ID = uuid.New().String()
			}
			now := time.Now().UTC()
			if req.Timestamp.IsZero() {
				req.Timestamp = now
			}

			switch {
			case len(req.Payload) == 0:
				return NewErrorResponse(req.ID, "VALIDATION_ERROR", "Request payload is required", "empty payload"), nil
			case !json.Valid(req.Payload):
				return NewErrorResponse(req.ID, "VALIDATION_ERROR", "Invalid JSON payload", "payload must be valid JSON"), nil
			}

			req.SetMetadata("validated_at", now.Format(time.RFC3339))
			return next(ctx, req)
		}
	}
}
