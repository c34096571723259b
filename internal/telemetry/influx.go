package telemetry

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/gomp-miner/pkg/errors"
	"github.com/bardlex/gomp-miner/pkg/log"
)

// InfluxConfig holds InfluxDB connection configuration
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// pointWriter is the part of api.WriteAPI the sink uses
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxSink stores statistics summaries and solutions as time series
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI pointWriter
}

// NewInfluxSink connects to InfluxDB and checks its health
func NewInfluxSink(ctx context.Context, cfg *InfluxConfig, logger *log.Logger) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeTelemetry, "influx_health", "failed to check InfluxDB health").
			WithContext("url", cfg.URL)
	}
	if health.Status != "pass" {
		client.Close()
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, errors.New(errors.ErrorTypeTelemetry, "influx_health", "InfluxDB health check failed").
			WithContext("url", cfg.URL).
			WithContext("message", msg)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	// Writes are asynchronous; failures only surface on this channel
	if logger != nil {
		errLogger := logger.WithComponent("influx")
		go func() {
			for err := range writeAPI.Errors() {
				errLogger.WithError(err).Warn("failed to write points")
			}
		}()
	}

	return &InfluxSink{client: client, writeAPI: writeAPI}, nil
}

// Name implements Sink
func (s *InfluxSink) Name() string { return "influx" }

// Handle implements Sink
func (s *InfluxSink) Handle(_ context.Context, e Event) error {
	if point := influxPoint(e); point != nil {
		s.writeAPI.WritePoint(point)
	}
	return nil
}

// Close flushes pending points and closes the client
func (s *InfluxSink) Close() error {
	s.writeAPI.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// influxPoint maps an event to its measurement, or nil for kinds not stored
func influxPoint(e Event) *write.Point {
	switch ev := e.(type) {
	case StatsEvent:
		snap := ev.Snapshot
		fields := map[string]interface{}{
			"iterations":     int64(snap.Iterations),
			"solves":         int64(snap.Solves),
			"cycles_per_sec": snap.Throughput(),
			"solves_per_min": snap.SolveRate(),
			"rate_1m":        snap.Rate1,
			"difficulty":     snap.LastDifficulty,
		}
		return write.NewPoint("miner_stats", map[string]string{}, fields, ev.Time)

	case SolutionEvent:
		tags := map[string]string{
			"worker": strconv.Itoa(ev.Worker),
			"pool":   ev.Pool,
		}
		fields := map[string]interface{}{
			"difficulty": ev.Difficulty,
			"achieved":   ev.Achieved,
			"block":      ev.Block,
			"count":      1,
		}
		if ev.Identity != "" {
			tags["identity"] = ev.Identity
		}
		return write.NewPoint("miner_solutions", tags, fields, ev.Time)

	case SessionEvent:
		tags := map[string]string{
			"worker": strconv.Itoa(ev.Worker),
			"pool":   ev.Pool,
			"state":  ev.State,
		}
		if ev.ErrorType != "" {
			tags["error_type"] = ev.ErrorType
		}
		fields := map[string]interface{}{
			"count": 1,
		}
		return write.NewPoint("miner_sessions", tags, fields, ev.Time)

	default:
		return nil
	}
}
