package telemetry

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/gomp-miner/internal/stats"
)

// recordingSink stores every event it is handed
type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
	closed bool
	block  chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), s.closed
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher(nil, 8, a, b)
	d.Start()

	now := time.Now()
	d.Publish(SessionEvent{Time: now, Worker: 1, Pool: "pool:5659", State: "ready"})
	d.Publish(SolutionEvent{Time: now, Worker: 1, Achieved: 12})
	d.Publish(StatsEvent{Time: now, Snapshot: stats.Snapshot{Iterations: 5}})

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for _, s := range []*recordingSink{a, b} {
		events, closed := s.snapshot()
		if len(events) != 3 {
			t.Errorf("sink %s got %d events, want 3", s.name, len(events))
		}
		if !closed {
			t.Errorf("sink %s not closed", s.name)
		}
		wantKinds := []string{"session", "solution", "stats"}
		for i := range events {
			if events[i].Kind() != wantKinds[i] {
				t.Errorf("sink %s event %d kind = %s, want %s", s.name, i, events[i].Kind(), wantKinds[i])
			}
		}
	}

	if d.Delivered() != 6 {
		t.Errorf("Delivered() = %d, want 6", d.Delivered())
	}
}

func TestDispatcher_PublishNeverBlocks(t *testing.T) {
	sink := &recordingSink{name: "slow", block: make(chan struct{})}
	d := NewDispatcher(nil, 2, sink)
	d.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			d.Publish(StatsEvent{Time: time.Now()})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	// One event may be held by the sink, two queued, the rest dropped
	if d.Dropped() < 7 {
		t.Errorf("Dropped() = %d, want at least 7", d.Dropped())
	}

	close(sink.block)
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	d := NewDispatcher(nil, 4)
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if d.Publish(StatsEvent{}) {
		t.Error("Publish() after Close should report a drop")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestDispatcher_CloseWithoutStartDrains(t *testing.T) {
	sink := &recordingSink{name: "a"}
	d := NewDispatcher(nil, 4, sink)
	d.Publish(SessionEvent{State: "ready"})

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if events, _ := sink.snapshot(); len(events) != 1 {
		t.Errorf("sink got %d events, want 1", len(events))
	}
}

func TestDispatcher_FailingSinkIsIsolated(t *testing.T) {
	bad := &recordingSink{name: "bad", err: stderrors.New("down")}
	good := &recordingSink{name: "good"}
	d := NewDispatcher(nil, 32, bad, good)
	d.Start()

	for i := 0; i < 10; i++ {
		d.Publish(SessionEvent{State: "ready"})
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	goodEvents, _ := good.snapshot()
	if len(goodEvents) != 10 {
		t.Errorf("good sink got %d events, want 10", len(goodEvents))
	}

	// The breaker opens after five consecutive failures
	badEvents, _ := bad.snapshot()
	if len(badEvents) != 5 {
		t.Errorf("bad sink called %d times, want 5", len(badEvents))
	}
}

func TestDispatcher_NilIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Start()
	if d.Publish(StatsEvent{}) {
		t.Error("nil dispatcher should not accept events")
	}
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Error("nil dispatcher counters should be zero")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFields(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	f := fields(SessionEvent{Time: ts, Worker: 2, Pool: "p", State: "disconnected", Error: "eof", ErrorType: "connection"})

	want := map[string]any{
		"kind":       "session",
		"time":       "2024-01-02T03:04:05Z",
		"worker":     float64(2),
		"pool":       "p",
		"state":      "disconnected",
		"error":      "eof",
		"error_type": "connection",
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("fields[%q] = %v, want %v", k, f[k], v)
		}
	}

	if _, ok := fields(SessionEvent{State: "ready"})["error"]; ok {
		t.Error("empty error should be omitted")
	}
}
