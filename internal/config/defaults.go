package config

import "time"

// DefaultHTTPConfig returns sensible defaults for HTTP client configuration
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:   120 * time.Second,
		UserAgent: "segmentdl/1.0",
		Addr:      ":8080",
	}
}

// DefaultRetryConfig returns sensible defaults for retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// DefaultSourceConfig returns the default CDN layout
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		BaseHost:    "https://d13z5uuzt1wkbz.cloudfront.net",
		Tag:         "HIDDEN",
		Extension:   "ts",
		MaxSegments: 1000,
	}
}

// DefaultDownloadConfig returns sensible defaults for download configuration
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		Concurrency:    3,
		MaxConcurrency: 16,
		Resolution:     "low",
		StagingDir:     "tmp",
		OutputDir:      "downloads",
		AllowGaps:      false,
	}
}

// DefaultStorageConfig returns sensible defaults for storage configuration
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Provider:   "none",
		MaxRetries: 3,
		Timeout:    5 * time.Minute,
		S3: S3Config{
			Region: "us-east-2",
		},
	}
}

// DefaultHandlerConfig returns sensible defaults for handler configuration
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Timeout:        30 * time.Minute,
		MaxRequestSize: 1024 * 1024,
		Platform:       "",
	}
}

// DefaultLambdaConfig returns sensible defaults for Lambda configuration
func DefaultLambdaConfig() LambdaConfig {
	return LambdaConfig{
		ProcessingTimeout:         14 * time.Minute,
		EnablePartialBatchFailure: true,
	}
}

// DefaultConfig returns a complete configuration with sensible defaults
// This is useful for testing or when you want to start with defaults and override specific parts
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		ServiceName: "segmentdl",
		LogLevel:    "info",
		Version:     "1.0.0",

		HTTP:     DefaultHTTPConfig(),
		Retry:    DefaultRetryConfig(),
		Source:   DefaultSourceConfig(),
		Download: DefaultDownloadConfig(),
		Storage:  DefaultStorageConfig(),
		Handler:  DefaultHandlerConfig(),
		Lambda:   DefaultLambdaConfig(),
		Observability: ObservabilityConfig{
			MetricsProvider: "prometheus",
		},
	}
}
