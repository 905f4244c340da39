// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and makes it the default
// logger of contexts that carry none.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger

	return logger
}

// ParseLevel validates a level name.
func ParseLevel(s string) (LogLevel, error) {
	switch LogLevel(strings.ToLower(s)) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return LogLevel(strings.ToLower(s)), nil
	case "warning":
		return LevelWarn, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithComponent returns a context carrying a component logger.
func WithComponent(ctx context.Context, component string) context.Context {
	logger := zerolog.Ctx(ctx).With().Str("component", component).Logger()
	return logger.WithContext(ctx)
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache lookups and flushes
//   - Single requests and their rate-limit headers
//   - Traffic fetched per system
//
// Info: Normal operation events
//   - Run planned / finished (intervals, cached, pending)
//   - Interval completed with progress
//   - Safety refresh and pacing changes
//   - Export written
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts with backoff
//   - Rate limit throttling or waiting for reset
//   - Classified request errors
//
// Error: Error conditions requiring attention
//   - Run aborted at an interval
//   - Retries exhausted
//   - Rate limit reset too far away
//
// Context Fields:
//   - run_id: Identifier of one scheduler run
//   - interval: Interval key (start/end, RFC 3339)
//   - endpoint: EDSM endpoint path
//   - status: HTTP status code
//   - error_kind: transient_network, rate_limited, auth_invalid, malformed_response
//   - attempt: 1-based attempt number
//   - progress: completed/total intervals
//   - remaining: EDSM rate-limit budget left
