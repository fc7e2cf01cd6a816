package domain

import (
	"context"
	"io"
)

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	// Download retrieves content from a URL
	// Returns: reader, response headers, error
	Download(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, map[string]string, error)
}

// ProgressEvent reports the byte progress of a single segment.
type ProgressEvent struct {
	Index    int
	Received int64
	// Total is -1 when the server did not disclose a length.
	Total int64
	// Percent is -1 when Total is unknown.
	Percent float64
}

// ProgressFunc receives progress events. It is called from the goroutine
// fetching the segment.
type ProgressFunc func(ProgressEvent)

// TitleLookup resolves a human readable title for an asset.
type TitleLookup func(ctx context.Context, assetID string) (string, bool)
