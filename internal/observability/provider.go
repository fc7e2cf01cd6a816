// Package observability provides a centralized provider for logging and metrics
// components used throughout the downloader.
package observability

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kit0ra/SCDownloader/internal/observability/logger"
	"github.com/kit0ra/SCDownloader/internal/observability/metrics"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// Logger is a type alias for the Logger interface from the types package.
type Logger = types.Logger

// Metrics is a type alias for the Metrics interface from the types package.
type Metrics = types.Metrics

// Fields is a type alias for structured logging fields.
type Fields = types.Fields

// Config is a type alias for the observability configuration.
type Config = types.Config

// Provider is a type alias for the Provider interface from the types package.
type Provider = types.Provider

// DefaultProvider implements the Provider interface.
// Loggers and metrics are created lazily, once per component.
type DefaultProvider struct {
	config  *Config
	loggers map[string]Logger
	metrics map[string]Metrics
	mu      sync.RWMutex
}

// NewProvider creates a new observability provider with the given configuration.
// If LogOutput is not specified in the config, it defaults to os.Stdout.
//
// Example:
//
//	provider := NewProvider(&Config{
//		ServiceName: "segmentdl",
//		Environment: "production",
//		LogLevel:    "info",
//	})
//	logger := provider.Logger("scheduler")
func NewProvider(config *Config) Provider {
	if config.LogOutput == nil {
		config.LogOutput = os.Stdout
	}

	return &DefaultProvider{
		config:  config,
		loggers: make(map[string]Logger),
		metrics: make(map[string]Metrics),
	}
}

// Logger returns the Logger of a component, creating it on first use.
// The logger carries a "component" field and the service name
// "{ServiceName}.{component}".
func (p *DefaultProvider) Logger(component string) Logger {
	p.mu.RLock()
	if l, exists := p.loggers[component]; exists {
		p.mu.RUnlock()
		return l
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check
	if l, exists := p.loggers[component]; exists {
		return l
	}

	fields := make(Fields)
	for k, v := range p.config.AdditionalFields {
		fields[k] = v
	}
	fields["component"] = component

	serviceName := fmt.Sprintf("%s.%s", p.config.ServiceName, component)

	l := logger.New(
		serviceName,
		p.config.Environment,
		p.config.LogLevel,
		p.config.LogOutput,
		fields,
	)

	p.loggers[component] = l
	return l
}

// Metrics returns the Metrics of a component, creating it on first use.
// With MetricsProvider "noop" every component shares a no-op collector.
func (p *DefaultProvider) Metrics(component string) Metrics {
	p.mu.RLock()
	if m, exists := p.metrics[component]; exists {
		p.mu.RUnlock()
		return m
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check
	if m, exists := p.metrics[component]; exists {
		return m
	}

	var m Metrics
	switch p.config.MetricsProvider {
	case "noop", "none":
		m = metrics.Noop{}
	default:
		m = metrics.New(component)
	}

	p.metrics[component] = m
	return m
}

// Close closes the LogOutput if it implements io.Closer, except for
// os.Stdout and os.Stderr.
func (p *DefaultProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if closer, ok := p.config.LogOutput.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}

	return nil
}
