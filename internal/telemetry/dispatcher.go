package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/gomp-miner/pkg/circuit"
	"github.com/bardlex/gomp-miner/pkg/errors"
	"github.com/bardlex/gomp-miner/pkg/log"
)

const (
	// DefaultQueueSize bounds the number of undelivered events
	DefaultQueueSize = 256
	// DefaultDeliverTimeout bounds one sink call
	DefaultDeliverTimeout = 5 * time.Second
)

// Sink receives events. Sinks ignore kinds they do not store.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
	Close() error
}

type guardedSink struct {
	sink    Sink
	breaker *circuit.Breaker
}

// Dispatcher delivers events to sinks from a single goroutine. A nil
// *Dispatcher accepts and drops everything.
type Dispatcher struct {
	logger  *log.Logger
	sinks   []guardedSink
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event

	dropped   atomic.Uint64
	delivered atomic.Uint64
	done      chan struct{}
	startOnce sync.Once
}

// NewDispatcher creates a dispatcher; call Start to begin delivery
func NewDispatcher(logger *log.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = log.Discard()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	d := &Dispatcher{
		logger:  logger.WithComponent("telemetry"),
		timeout: DefaultDeliverTimeout,
		queue:   make(chan Event, queueSize),
		done:    make(chan struct{}),
	}
	for _, s := range sinks {
		d.sinks = append(d.sinks, guardedSink{
			sink:    s,
			breaker: circuit.New(s.Name(), circuit.DefaultConfig()),
		})
	}
	return d
}

// Start launches the delivery goroutine. It is safe to call more than once.
func (d *Dispatcher) Start() {
	if d == nil {
		return
	}
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Publish queues e without blocking. It reports false when the event was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Publish(e Event) bool {
	if d == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return false
	}

	select {
	case d.queue <- e:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events that never reached the queue
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered returns the number of successful sink calls
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, gs := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := gs.breaker.Execute(ctx, func() error {
			return gs.sink.Handle(ctx, e)
		})
		cancel()

		if err == nil {
			d.delivered.Add(1)
			continue
		}

		logger := d.logger.WithError(err).WithFields("sink", gs.sink.Name(), "event", e.Kind())
		if errors.GetContext(err)["breaker"] != nil {
			logger.Debug("sink unavailable, event skipped")
		} else {
			logger.Warn("failed to deliver telemetry event")
		}
	}
}

// Close stops accepting events, delivers what is queued and closes the sinks
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	// Drain here when Start was never called
	d.startOnce.Do(func() {
		go d.run()
	})
	<-d.done

	var lastErr error
	for _, gs := range d.sinks {
		if err := gs.sink.Close(); err != nil {
			d.logger.WithError(err).Error("failed to close sink", "sink", gs.sink.Name())
			lastErr = err
		}
	}

	if n := d.dropped.Load(); n > 0 {
		d.logger.Warn("telemetry events dropped", "count", n)
	}
	return lastErr
}
