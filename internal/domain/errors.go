package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code      string
	Message   string
	Err       error
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode returns the machine readable code.
func (e *DomainError) ErrorCode() string {
	return e.Code
}

// Unwrap exposes the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error, retryable bool) *DomainError {
	return &DomainError{
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// Error codes
const (
	CodeInvalidAssetID     = "INVALID_ASSET_ID"
	CodeInvalidResolution  = "INVALID_RESOLUTION"
	CodeInvalidConcurrency = "INVALID_CONCURRENCY"
	CodeTerminalFetch      = "TERMINAL_FETCH"
	CodeTransientFetch     = "TRANSIENT_FETCH"
	CodeNoSegments         = "NO_SEGMENTS"
	CodeAssemblyIO         = "ASSEMBLY_IO"
	CodeIncompleteAsset    = "INCOMPLETE_ASSET"
	CodeStorageFailed      = "STORAGE_FAILED"
)

// Common domain errors
var (
	ErrInvalidAssetID = &DomainError{
		Code:      CodeInvalidAssetID,
		Message:   "The asset identifier is empty or malformed",
		Retryable: false,
	}

	ErrInvalidResolution = &DomainError{
		Code:      CodeInvalidResolution,
		Message:   "Unknown resolution tier",
		Retryable: false,
	}

	ErrInvalidConcurrency = &DomainError{
		Code:      CodeInvalidConcurrency,
		Message:   "Requested concurrency exceeds the configured maximum",
		Retryable: false,
	}

	// ErrTerminalFetch marks the end of the asset: the segment and every
	// segment after it are absent.
	ErrTerminalFetch = &DomainError{
		Code:      CodeTerminalFetch,
		Message:   "Segment is not available",
		Retryable: false,
	}

	ErrTransientFetch = &DomainError{
		Code:      CodeTransientFetch,
		Message:   "Failed to fetch segment",
		Retryable: true,
	}

	ErrNoSegments = &DomainError{
		Code:      CodeNoSegments,
		Message:   "No segments were downloaded successfully",
		Retryable: false,
	}

	ErrAssemblyIO = &DomainError{
		Code:      CodeAssemblyIO,
		Message:   "Failed to assemble segments",
		Retryable: false,
	}

	ErrIncompleteAsset = &DomainError{
		Code:      CodeIncompleteAsset,
		Message:   "Some segments failed to download",
		Retryable: true,
	}

	ErrStorageFailed = &DomainError{
		Code:      CodeStorageFailed,
		Message:   "Failed to store file",
		Retryable: true,
	}
)

// HTTPStatusError is returned by HTTP clients when the server answers with a
// status other than 200.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}
