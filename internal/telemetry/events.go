// Package telemetry fans miner events out to optional reporting sinks.
// Nothing in here may slow down or fail the work loops: publishing never
// blocks and sink errors are only logged.
package telemetry

import (
	"time"

	"github.com/bardlex/gomp-miner/internal/stats"
)

// Event is one report from a work loop
type Event interface {
	// Kind names the event for logs and encoded messages
	Kind() string
	// When the event happened
	When() time.Time
}

// StatsEvent carries a process-wide statistics summary
type StatsEvent struct {
	Time     time.Time
	Snapshot stats.Snapshot
}

// Kind implements Event
func (StatsEvent) Kind() string { return "stats" }

// When implements Event
func (e StatsEvent) When() time.Time { return e.Time }

// SolutionEvent is emitted when a worker found a solution that will be
// submitted on its next exchange
type SolutionEvent struct {
	Time       time.Time
	Worker     int
	Pool       string
	Identity   string
	Difficulty float64 // job difficulty
	Achieved   float64
	Block      string
	Nonce      string
}

// Kind implements Event
func (SolutionEvent) Kind() string { return "solution" }

// When implements Event
func (e SolutionEvent) When() time.Time { return e.Time }

// SessionEvent reports a session state change of one worker
type SessionEvent struct {
	Time   time.Time
	Worker int
	Pool   string
	State  string
	// Error is set when the change was caused by a failure
	Error     string
	ErrorType string
}

// Kind implements Event
func (SessionEvent) Kind() string { return "session" }

// When implements Event
func (e SessionEvent) When() time.Time { return e.Time }

// fields flattens an event for encoders that want plain values
func fields(e Event) map[string]any {
	out := map[string]any{
		"kind": e.Kind(),
		"time": e.When().UTC().Format(time.RFC3339Nano),
	}

	switch ev := e.(type) {
	case StatsEvent:
		snap := ev.Snapshot
		out["iterations"] = float64(snap.Iterations)
		out["elapsed_seconds"] = snap.Elapsed.Seconds()
		out["solves"] = float64(snap.Solves)
		out["cycles_per_sec"] = snap.Throughput()
		out["solves_per_min"] = snap.SolveRate()
		out["rate_1m"] = snap.Rate1
		out["difficulty"] = snap.LastDifficulty
	case SolutionEvent:
		out["worker"] = float64(ev.Worker)
		out["pool"] = ev.Pool
		out["identity"] = ev.Identity
		out["difficulty"] = ev.Difficulty
		out["achieved"] = ev.Achieved
		out["block"] = ev.Block
		out["nonce"] = ev.Nonce
	case SessionEvent:
		out["worker"] = float64(ev.Worker)
		out["pool"] = ev.Pool
		out["state"] = ev.State
		if ev.Error != "" {
			out["error"] = ev.Error
			out["error_type"] = ev.ErrorType
		}
	}

	return out
}
