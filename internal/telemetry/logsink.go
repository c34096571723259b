package telemetry

import (
	"context"

	"github.com/bardlex/gomp-miner/pkg/log"
)

// LogSink writes every event at debug level
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink logging through logger
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogSink{logger: logger.WithComponent("telemetry_log")}
}

// Name implements Sink
func (s *LogSink) Name() string { return "log" }

// Handle implements Sink
func (s *LogSink) Handle(ctx context.Context, e Event) error {
	f := fields(e)
	attrs := make([]any, 0, len(f)*2)
	for k, v := range f {
		attrs = append(attrs, k, v)
	}
	s.logger.DebugContext(ctx, "telemetry event", attrs...)
	return nil
}

// Close implements Sink
func (s *LogSink) Close() error { return nil }
