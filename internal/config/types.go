package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kit0ra/SCDownloader/internal/domain"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	Environment string
	ServiceName string
	LogLevel    string
	Version     string

	// Component configurations
	HTTP          HTTPConfig
	Retry         RetryConfig
	Source        SourceConfig
	Download      DownloadConfig
	Storage       StorageConfig
	Handler       HandlerConfig
	Lambda        LambdaConfig
	Observability ObservabilityConfig
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	// Timeout bounds one segment request, body included.
	Timeout   time.Duration
	UserAgent string
	Addr      string // Server address for HTTP mode
}

// RetryConfig holds the per-segment retry policy
type RetryConfig struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// SourceConfig describes where segments are fetched from
type SourceConfig struct {
	BaseHost    string
	Tag         string
	Extension   string
	MaxSegments int
}

// DownloadConfig holds scheduling and filesystem settings
type DownloadConfig struct {
	Concurrency int
	// MaxConcurrency caps the concurrency a single job may request.
	MaxConcurrency int
	Resolution     string
	StagingDir     string
	OutputDir      string
	AllowGaps      bool
}

// StorageConfig holds artifact publishing configuration
type StorageConfig struct {
	// Provider is "none", "s3" or "fs".
	Provider   string
	Prefix     string
	MaxRetries int
	Timeout    time.Duration
	// KeepLocal keeps the local artifact after a successful upload.
	KeepLocal bool
	S3        S3Config
	FS        FSConfig
}

// FSConfig holds filesystem publishing configuration, e.g. a NAS mount
type FSConfig struct {
	BasePath string
}

// S3Config holds S3-specific configuration
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
}

// HandlerConfig holds handler configuration
type HandlerConfig struct {
	// Timeout bounds one job. Zero leaves jobs unbounded and is only
	// accepted on the cli platform.
	Timeout        time.Duration
	MaxRequestSize int64
	Platform       string // cli, http or lambda
}

// LambdaConfig holds Lambda-specific configuration
type LambdaConfig struct {
	ProcessingTimeout         time.Duration
	EnablePartialBatchFailure bool
}

// ObservabilityConfig selects logging and metrics backends
type ObservabilityConfig struct {
	MetricsProvider string
}

// IsStorageEnabled reports whether artifacts are published to object storage.
func (c *Config) IsStorageEnabled() bool {
	p := strings.ToLower(c.Storage.Provider)
	return p != "" && p != "none"
}

// SourceTemplate converts the source section into the enumerator template.
func (c *Config) SourceTemplate() domain.SourceTemplate {
	return domain.SourceTemplate{
		BaseHost:    c.Source.BaseHost,
		Tag:         c.Source.Tag,
		Extension:   c.Source.Extension,
		MaxSegments: c.Source.MaxSegments,
	}
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ServiceName == "" {
		errors = append(errors, "SERVICE_NAME is required")
	}

	if c.HTTP.Timeout <= 0 {
		errors = append(errors, "HTTP_TIMEOUT must be positive")
	}
	if c.Handler.Timeout < 0 || (c.Handler.Timeout == 0 && c.Handler.Platform != "cli") {
		errors = append(errors, "HANDLER_TIMEOUT must be positive")
	}
	if c.Handler.MaxRequestSize <= 0 {
		errors = append(errors, "HANDLER_MAX_REQUEST_SIZE must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		errors = append(errors, "SEGMENT_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		errors = append(errors, "RETRY_BACKOFF_MULTIPLIER must be >= 1.0")
	}

	if c.Download.Concurrency < 1 {
		errors = append(errors, "DOWNLOAD_CONCURRENCY must be at least 1")
	}
	if c.Download.MaxConcurrency < 1 {
		errors = append(errors, "DOWNLOAD_MAX_CONCURRENCY must be at least 1")
	} else if c.Download.Concurrency > c.Download.MaxConcurrency {
		errors = append(errors, fmt.Sprintf("DOWNLOAD_CONCURRENCY must not exceed DOWNLOAD_MAX_CONCURRENCY (%d)", c.Download.MaxConcurrency))
	}
	if c.Download.StagingDir == "" {
		errors = append(errors, "STAGING_DIR is required")
	}
	if c.Download.OutputDir == "" {
		errors = append(errors, "OUTPUT_DIR is required")
	}

	if c.Source.BaseHost == "" {
		errors = append(errors, "SOURCE_BASE_HOST is required")
	}
	if c.Source.Extension == "" {
		errors = append(errors, "SOURCE_EXTENSION is required")
	}
	if c.Source.MaxSegments < 1 {
		errors = append(errors, "SOURCE_MAX_SEGMENTS must be at least 1")
	}

	if _, err := domain.ParseResolution(c.Download.Resolution); err != nil {
		errors = append(errors, fmt.Sprintf("unsupported DOWNLOAD_RESOLUTION %q", c.Download.Resolution))
	}

	switch strings.ToLower(c.Storage.Provider) {
	case "", "none":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errors = append(errors, "S3_BUCKET is required when STORAGE_PROVIDER=s3")
		}
	case "fs":
		if c.Storage.FS.BasePath == "" {
			errors = append(errors, "STORAGE_FS_PATH is required when STORAGE_PROVIDER=fs")
		}
	default:
		errors = append(errors, fmt.Sprintf("unsupported STORAGE_PROVIDER %q", c.Storage.Provider))
	}

	switch c.Handler.Platform {
	case "", "cli", "http", "lambda":
	default:
		errors = append(errors, fmt.Sprintf("unsupported HANDLER_PLATFORM %q", c.Handler.Platform))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// applyDefaults applies environment-specific defaults
func (c *Config) applyDefaults() {
	if c.Handler.Platform == "" {
		if IsLambda() {
			c.Handler.Platform = "lambda"
		} else {
			c.Handler.Platform = "cli"
		}
	}

	if c.IsProduction() {
		// Lambda and HTTP jobs download whole assets
		if c.Handler.Timeout > 0 && c.Handler.Timeout < 15*time.Minute {
			c.Handler.Timeout = 15 * time.Minute
		}
	}

	if c.IsTest() {
		c.Observability.MetricsProvider = "noop"
	}
}

// IsLocal returns true if running in local/development environment
func (c *Config) IsLocal() bool {
	env := strings.ToLower(c.Environment)
	return env == "local" || env == "development" || env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// IsTest returns true if running in test environment
func (c *Config) IsTest() bool {
	env := strings.ToLower(c.Environment)
	return env == "test" || env == "testing"
}
