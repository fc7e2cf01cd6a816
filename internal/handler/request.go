package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kit0ra/SCDownloader/internal/domain"
)

// Request is a job submitted to a worker, independent of the transport it
// arrived on (cli, http, sqs, lambda).
type Request struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Type   string `json:"type"`

	// Payload is handed to the worker undecoded.
	Payload json.RawMessage `json:"payload"`

	// Metadata carries transport details such as headers or SQS attributes.
	Metadata map[string]string `json:"metadata,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Response is the worker's answer to a Request. Exactly one of Data and
// Error is set.
type Response struct {
	ID          string            `json:"id"`
	Success     bool              `json:"success"`
	Data        json.RawMessage   `json:"data,omitempty"`
	Error       *ErrorResponse    `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ProcessedAt time.Time         `json:"processed_at"`
	Duration    time.Duration     `json:"duration,omitempty"`
}

// ErrorResponse describes a failed request.
type ErrorResponse struct {
	// Code is machine readable, e.g. NO_SEGMENTS.
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	// Retryable tells queue based transports to redeliver the job.
	Retryable bool `json:"retryable,omitempty"`
}

// retryableCodes lists the codes worth redelivering when the error does not
// say otherwise.
var retryableCodes = map[string]bool{
	"TIMEOUT":                  true,
	"NETWORK_ERROR":            true,
	"SERVICE_UNAVAILABLE":      true,
	domain.CodeTransientFetch:  true,
	domain.CodeIncompleteAsset: true,
	domain.CodeStorageFailed:   true,
}

// NewRequest creates a request with a fresh ID and the current time.
func NewRequest(requestType string, payload interface{}) (Request, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}

	return Request{
		ID:        uuid.New().String(),
		Type:      requestType,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UTC(),
	}, nil
}

// Unmarshal decodes the payload into v.
func (r *Request) Unmarshal(v interface{}) error {
	return json.Unmarshal(r.Payload, v)
}

// Marshal encodes v as the response data.
func (r *Response) Marshal(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Data = data
	return nil
}

// NewErrorResponse creates a failed response; Retryable follows the code.
func NewErrorResponse(id string, code string, message string, details string) Response {
	return Response{
		ID:      id,
		Success: false,
		Error: &ErrorResponse{
			Code:      code,
			Message:   message,
			Details:   details,
			Retryable: retryableCodes[code],
		},
		ProcessedAt: time.Now().UTC(),
	}
}

// ErrorResponseFor converts err into a failed response. Domain errors keep
// their code, message and retryable flag; a context deadline becomes
// TIMEOUT; anything else is PROCESSING_ERROR.
func ErrorResponseFor(id string, err error) Response {
	var domainErr *domain.DomainError
	switch {
	case errors.As(err, &domainErr):
		resp := NewErrorResponse(id, domainErr.Code, domainErr.Message, err.Error())
		resp.Error.Retryable = domainErr.Retryable
		return resp
	case errors.Is(err, context.DeadlineExceeded):
		return NewErrorResponse(id, "TIMEOUT", "Request processing timed out", err.Error())
	default:
		return NewErrorResponse(id, "PROCESSING_ERROR", "Failed to process download request", err.Error())
	}
}

// NewSuccessResponse creates a successful response carrying data.
func NewSuccessResponse(id string, data interface{}) (Response, error) {
	resp := Response{
		ID:          id,
		Success:     true,
		ProcessedAt: time.Now().UTC(),
		Metadata:    make(map[string]string),
	}

	if data != nil {
		if err := resp.Marshal(data); err != nil {
			return Response{}, err
		}
	}

	return resp, nil
}

func (r *Request) SetMetadata(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

func (r *Request) GetMetadata(key string) (string, bool) {
	val, ok := r.Metadata[key]
	return val, ok
}
