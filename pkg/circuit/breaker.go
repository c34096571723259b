// Package circuit provides a circuit breaker used to keep failing reporting
// sinks from stealing time from the mining loop.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/gomp-miner/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - calls go through
	StateClosed State = iota
	// StateOpen - calls are rejected without running
	StateOpen
	// StateHalfOpen - trial calls are let through to probe recovery
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	MaxFailures     int           // consecutive failures before opening
	SuccessRequired int           // successful trial calls needed to close again
	Timeout         time.Duration // time spent open before going half-open
}

// DefaultConfig returns the configuration used for telemetry sinks
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:     5,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config *Config
	now    func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	lastFailTime time.Time
	rejected     int64
}

// New creates a new circuit breaker; name shows up in rejection errors
func New(name string, config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}

	return &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open
func (cb *Breaker) Execute(_ context.Context, fn func() error) error {
	if !cb.allow() {
		return cb.openError()
	}

	err := fn()
	cb.record(err)
	return err
}

// ExecuteWithResult runs fn unless the circuit is open and returns its result
func ExecuteWithResult[T any](_ context.Context, cb *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if !cb.allow() {
		return zero, cb.openError()
	}

	res, err := fn()
	cb.record(err)
	return res, err
}

func (cb *Breaker) openError() error {
	return errors.New(errors.ErrorTypeTelemetry, "circuit_breaker", "circuit breaker is open").
		WithContext("breaker", cb.name).
		WithContext("state", cb.State().String())
}

func (cb *Breaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailTime) >= cb.config.Timeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			return true
		}
		cb.rejected++
		return false
	default:
		return false
	}
}

func (cb *Breaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = cb.now()

		if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.successes = 0
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessRequired {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	case StateClosed:
		// Failures only count while consecutive
		cb.failures = 0
	}
}

// State returns the current state of the circuit breaker
func (cb *Breaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name         string
	State        State
	Failures     int
	Rejected     int64
	LastFailTime time.Time
}

// Stats returns a snapshot of the breaker counters
func (cb *Breaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:         cb.name,
		State:        cb.state,
		Failures:     cb.failures,
		Rejected:     cb.rejected,
		LastFailTime: cb.lastFailTime,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}
