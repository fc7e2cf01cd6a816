package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// Provider manages configuration lifecycle and ensures singleton behavior
type Provider struct {
	config *Config
	mu     sync.RWMutex
	loaded bool
	// dir is where .env files are looked up; empty means the working directory.
	dir string
}

var (
	instance *Provider
	once     sync.Once
)

// GetProvider returns the singleton configuration provider instance
func GetProvider() *Provider {
	once.Do(func() {
		instance = &Provider{}
	})
	return instance
}

// NewProvider returns a provider that reads .env files from dir.
func NewProvider(dir string) *Provider {
	return &Provider{dir: dir}
}

// Load loads configuration from environment variables and .env files
// This should be called once at application startup
func (p *Provider) Load() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil // Already loaded
	}

	if err := p.loadEnvFiles(); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}

	cfg, err := p.parseConfig()
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	p.config = cfg
	p.loaded = true
	return nil
}

// MustLoad loads configuration and panics on error
// Use this for application initialization where errors are fatal
func (p *Provider) MustLoad() {
	if err := p.Load(); err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
}

// Get returns the current configuration
// Returns error if configuration hasn't been loaded
func (p *Provider) Get() (*Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.loaded || p.config == nil {
		return nil, fmt.Errorf("configuration not loaded; call Load() first")
	}

	return p.config, nil
}

// MustGet returns the configuration or panics if not loaded
func (p *Provider) MustGet() *Config {
	cfg, err := p.Get()
	if err != nil {
		panic(fmt.Sprintf("failed to get configuration: %v", err))
	}
	return cfg
}

// Reload reloads configuration from environment
// Useful for configuration updates without restart (use with caution)
func (p *Provider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, err := p.parseConfig()
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	p.config = cfg
	p.loaded = true
	return nil
}

// Reset clears the configuration (useful for testing)
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = nil
	p.loaded = false
}

// IsLoaded returns whether configuration has been loaded
func (p *Provider) IsLoaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loaded
}

// loadEnvFiles loads .env files in order of precedence. Variables already
// present in the process environment are never overridden by .env; the
// environment-specific and .env.local files override earlier files.
func (p *Provider) loadEnvFiles() error {
	base := filepath.Join(p.dir, ".env")
	if _, err := os.Stat(base); err == nil {
		if err := godotenv.Load(base); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env != "" {
		envFile := filepath.Join(p.dir, fmt.Sprintf(".env.%s", env))
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	local := filepath.Join(p.dir, ".env.local")
	if _, err := os.Stat(local); err == nil {
		if err := godotenv.Overload(local); err != nil {
			return fmt.Errorf("failed to load .env.local: %w", err)
		}
	}

	return nil
}

// parseConfig parses configuration from environment variables
func (p *Provider) parseConfig() (*Config, error) {
	d := DefaultConfig()

	cfg := &Config{
		// Core
		Environment: getEnv("ENVIRONMENT", "local"),
		ServiceName: getEnv("SERVICE_NAME", d.ServiceName),
		LogLevel:    getEnv("LOG_LEVEL", d.LogLevel),
		Version:     getEnv("SERVICE_VERSION", d.Version),

		// HTTP Client
		HTTP: HTTPConfig{
			Timeout:   getDuration("HTTP_TIMEOUT", d.HTTP.Timeout),
			UserAgent: getEnv("HTTP_USER_AGENT", d.HTTP.UserAgent),
			Addr:      getEnv("HTTP_ADDR", d.HTTP.Addr),
		},

		// Segment retries
		Retry: RetryConfig{
			MaxAttempts:       getInt("SEGMENT_RETRY_ATTEMPTS", d.Retry.MaxAttempts),
			InitialBackoff:    getDuration("RETRY_INITIAL_BACKOFF", d.Retry.InitialBackoff),
			MaxBackoff:        getDuration("RETRY_MAX_BACKOFF", d.Retry.MaxBackoff),
			BackoffMultiplier: getFloat64("RETRY_BACKOFF_MULTIPLIER", d.Retry.BackoffMultiplier),
		},

		// Segment source
		Source: SourceConfig{
			BaseHost:    getEnv("SOURCE_BASE_HOST", d.Source.BaseHost),
			Tag:         getEnv("SOURCE_TAG", d.Source.Tag),
			Extension:   getEnv("SOURCE_EXTENSION", d.Source.Extension),
			MaxSegments: getInt("SOURCE_MAX_SEGMENTS", d.Source.MaxSegments),
		},

		// Download
		Download: DownloadConfig{
			Concurrency:    getInt("DOWNLOAD_CONCURRENCY", d.Download.Concurrency),
			MaxConcurrency: getInt("DOWNLOAD_MAX_CONCURRENCY", d.Download.MaxConcurrency),
			Resolution:     getEnv("DOWNLOAD_RESOLUTION", d.Download.Resolution),
			StagingDir:     getEnv("STAGING_DIR", d.Download.StagingDir),
			OutputDir:      getEnv("OUTPUT_DIR", d.Download.OutputDir),
			AllowGaps:      getBool("ALLOW_GAPS", d.Download.AllowGaps),
		},

		// Storage
		Storage: StorageConfig{
			Provider:   getEnv("STORAGE_PROVIDER", d.Storage.Provider),
			Prefix:     getEnv("STORAGE_PREFIX", d.Storage.Prefix),
			MaxRetries: getInt("STORAGE_MAX_RETRIES", d.Storage.MaxRetries),
			Timeout:    getDuration("STORAGE_TIMEOUT", d.Storage.Timeout),
			KeepLocal:  getBool("STORAGE_KEEP_LOCAL", true),
			S3: S3Config{
				Region:          getEnv("AWS_REGION", d.Storage.S3.Region),
				Bucket:          getEnv("S3_BUCKET", ""),
				AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
				Endpoint:        getEnv("S3_ENDPOINT", ""),
				UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
			},
			FS: FSConfig{
				BasePath: getEnv("STORAGE_FS_PATH", ""),
			},
		},

		// Handler
		Handler: HandlerConfig{
			Timeout:        getDuration("HANDLER_TIMEOUT", d.Handler.Timeout),
			MaxRequestSize: int64(getInt("HANDLER_MAX_REQUEST_SIZE", int(d.Handler.MaxRequestSize))),
			Platform:       getEnv("HANDLER_PLATFORM", ""),
		},

		// Lambda
		Lambda: LambdaConfig{
			ProcessingTimeout:         getDuration("LAMBDA_PROCESSING_TIMEOUT", d.Lambda.ProcessingTimeout),
			EnablePartialBatchFailure: getBool("LAMBDA_PARTIAL_BATCH_FAILURE", d.Lambda.EnablePartialBatchFailure),
		},

		Observability: ObservabilityConfig{
			MetricsProvider: getEnv("OBSERVABILITY_METRICS_PROVIDER", d.Observability.MetricsProvider),
		},
	}

	cfg.applyDefaults()

	return cfg, nil
}
