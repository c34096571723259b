// Package log provides structured logging utilities for the GOMP miner.
// It wraps the standard library's slog package with miner-specific helpers.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with service context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stderr
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stderr, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	logLevel := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "console", "":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			AddSource:  opts.AddSource,
			TimeFormat: time.DateTime,
			NoColor:    w != os.Stderr && w != os.Stdout,
		})
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithPool returns a logger tagged with the pool endpoint and worker index
func (l *Logger) WithPool(addr string, worker int) *Logger {
	return l.WithFields("pool", addr, "worker", worker)
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogConnection logs connection events
func (l *Logger) LogConnection(event, remoteAddr string) {
	l.Info("connection event",
		"event", event,
		"remote_addr", remoteAddr,
	)
}

// LogJob logs a received job (debug level)
func (l *Logger) LogJob(difficulty float64, address, hash string) {
	l.Debug("fetched job",
		"difficulty", difficulty,
		"address", address,
		"hash", hash,
	)
}

// LogSolution logs a solution that will be submitted on the next exchange
func (l *Logger) LogSolution(difficulty float64, block, nonce string) {
	l.Info("submitting solution",
		"difficulty", difficulty,
		"block", block,
		"nonce", nonce,
	)
}

// LogStats logs a periodic statistics summary
func (l *Logger) LogStats(cyclesPerSec, solvesPerMin, difficulty float64, solves uint64) {
	l.Info("mining statistics",
		"cycles_per_sec", cyclesPerSec,
		"solves_per_min", solvesPerMin,
		"solves", solves,
		"difficulty", difficulty,
	)
}
