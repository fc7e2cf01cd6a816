package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/domain"
)

// Client implements the HTTPClient port. It performs a single GET per call;
// retries are layered above it.
type Client struct {
	client *http.Client
	config config.HTTPConfig
}

// NewClientWithConfig creates a new HTTP client with custom configuration
func NewClientWithConfig(cfg config.HTTPConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultHTTPConfig().Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.DefaultHTTPConfig().UserAgent
	}

	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
	}
}

// NewClient creates a client with the default configuration
func NewClient() *Client {
	return NewClientWithConfig(config.DefaultHTTPConfig())
}

// Download implements the HTTPClient interface
func (c *Client) Download(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set user agent
	req.Header.Set("User-Agent", c.config.UserAgent)

	// Set custom headers
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, &domain.HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	// Extract response headers
	responseHeaders := make(map[string]string)
	for key := range resp.Header {
		responseHeaders[key] = resp.Header.Get(key)
	}
	if resp.ContentLength >= 0 {
		responseHeaders["Content-Length"] = fmt.Sprintf("%d", resp.ContentLength)
	}

	return resp.Body, responseHeaders, nil
}

// Timeout returns the per-request timeout in effect.
func (c *Client) Timeout() time.Duration {
	return c.client.Timeout
}
