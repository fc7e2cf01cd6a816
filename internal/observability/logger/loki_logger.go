// Package logger writes structured JSON log lines suitable for Loki.
package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kit0ra/SCDownloader/internal/observability/types"
)

// LogLevel orders entries by severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

// ParseLevel maps a level name to a LogLevel, defaulting to InfoLevel.
func ParseLevel(level string) LogLevel {
	for i, name := range levelNames {
		if strings.EqualFold(level, name) {
			return LogLevel(i)
		}
	}
	return InfoLevel
}

func (l LogLevel) String() string {
	if l < DebugLevel || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// codedError is satisfied by errors that carry a machine readable code.
type codedError interface {
	ErrorCode() string
}

// contextKeys are copied from the context into every entry.
var contextKeys = []types.ContextKey{
	types.RequestIDKey,
	types.RunIDKey,
	types.AssetIDKey,
}

// LokiLogger writes one JSON object per line. Loggers derived through
// WithFields share the parent's writer and lock, so lines from concurrent
// segment fetches never interleave.
type LokiLogger struct {
	mu               *sync.Mutex
	output           io.Writer
	serviceName      string
	environment      string
	hostname         string
	minLevel         LogLevel
	persistentFields types.Fields
}

// New creates a logger. A nil output writes to os.Stdout.
func New(serviceName, environment, logLevel string, output io.Writer, additionalFields types.Fields) *LokiLogger {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	if output == nil {
		output = os.Stdout
	}

	return &LokiLogger{
		mu:               &sync.Mutex{},
		output:           output,
		serviceName:      serviceName,
		environment:      environment,
		hostname:         hostname,
		minLevel:         ParseLevel(logLevel),
		persistentFields: additionalFields,
	}
}

func (l *LokiLogger) Info(ctx context.Context, msg string, fields types.Fields) {
	l.log(ctx, InfoLevel, msg, nil, fields)
}

// Error logs err with its message, dynamic type and, when it has one, its
// error code.
func (l *LokiLogger) Error(ctx context.Context, msg string, err error, fields types.Fields) {
	l.log(ctx, ErrorLevel, msg, err, fields)
}

func (l *LokiLogger) Warn(ctx context.Context, msg string, fields types.Fields) {
	l.log(ctx, WarnLevel, msg, nil, fields)
}

func (l *LokiLogger) Debug(ctx context.Context, msg string, fields types.Fields) {
	l.log(ctx, DebugLevel, msg, nil, fields)
}

// WithFields returns a child logger adding fields to every entry.
func (l *LokiLogger) WithFields(fields types.Fields) types.Logger {
	newFields := make(types.Fields, len(l.persistentFields)+len(fields))
	for k, v := range l.persistentFields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &LokiLogger{
		mu:               l.mu,
		output:           l.output,
		serviceName:      l.serviceName,
		environment:      l.environment,
		hostname:         l.hostname,
		minLevel:         l.minLevel,
		persistentFields: newFields,
	}
}

// log formats and writes one entry. Later sources win on key collisions:
// standard fields, context values, persistent fields, call fields.
func (l *LokiLogger) log(ctx context.Context, level LogLevel, msg string, err error, fields types.Fields) {
	if level < l.minLevel {
		return
	}

	entry := make(types.Fields, 8+len(l.persistentFields)+len(fields))

	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["service"] = l.serviceName
	entry["env"] = l.environment
	entry["hostname"] = l.hostname
	entry["message"] = msg

	if ctx != nil {
		for _, key := range contextKeys {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				entry[string(key)] = v
			}
		}
	}

	if err != nil {
		entry["error"] = err.Error()
		entry["error_type"] = fmt.Sprintf("%T", err)
		var coded codedError
		if errors.As(err, &coded) {
			entry["error_code"] = coded.ErrorCode()
		}
	}

	for k, v := range l.persistentFields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}

	jsonBytes, mErr := json.Marshal(entry)
	if mErr != nil {
		return
	}
	jsonBytes = append(jsonBytes, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(jsonBytes)
}
