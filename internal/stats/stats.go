// Package stats aggregates search statistics shared by every work loop in
// the process.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Statistics accumulates search iterations, search time, solves and a
// histogram of achieved difficulties. It is safe for concurrent use.
type Statistics struct {
	mu         sync.Mutex
	iterations uint64
	elapsed    time.Duration
	solves     uint64
	histogram  map[float64]uint64
	lastDiff   float64

	rate metrics.Meter
}

// New creates an empty Statistics
func New() *Statistics {
	return &Statistics{
		histogram: make(map[float64]uint64),
		rate:      metrics.NewMeter(),
	}
}

// Record adds one search attempt against a job of the given difficulty
func (s *Statistics) Record(iterations uint64, elapsed time.Duration, difficulty float64) {
	s.mu.Lock()
	s.iterations += iterations
	s.elapsed += elapsed
	s.lastDiff = difficulty
	s.mu.Unlock()

	s.rate.Mark(int64(iterations))
}

// RecordSolve counts a found solution under its achieved difficulty
func (s *Statistics) RecordSolve(achieved float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.solves++
	s.histogram[achieved]++
}

// Snapshot returns a consistent copy of the counters
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	histogram := make(map[float64]uint64, len(s.histogram))
	for k, v := range s.histogram {
		histogram[k] = v
	}

	return Snapshot{
		Iterations:     s.iterations,
		Elapsed:        s.elapsed,
		Solves:         s.solves,
		LastDifficulty: s.lastDiff,
		Histogram:      histogram,
		Rate1:          s.rate.Rate1(),
		Taken:          time.Now(),
	}
}

// Stop releases the background ticker of the rate meter
func (s *Statistics) Stop() {
	s.rate.Stop()
}

// Snapshot is a point-in-time view of Statistics
type Snapshot struct {
	Iterations     uint64
	Elapsed        time.Duration
	Solves         uint64
	LastDifficulty float64
	Histogram      map[float64]uint64
	// Rate1 is the one-minute moving average of iterations per second
	Rate1 float64
	Taken time.Time
}

// Throughput returns iterations per second of search time
func (s Snapshot) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Iterations) / s.Elapsed.Seconds()
}

// SolveRate returns solutions per minute of search time
func (s Snapshot) SolveRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Solves) / s.Elapsed.Minutes()
}

// Bucket is one histogram entry
type Bucket struct {
	Difficulty float64
	Count      uint64
}

// Buckets returns the histogram sorted by difficulty
func (s Snapshot) Buckets() []Bucket {
	buckets := make([]Bucket, 0, len(s.Histogram))
	for diff, count := range s.Histogram {
		buckets = append(buckets, Bucket{Difficulty: diff, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Difficulty < buckets[j].Difficulty
	})
	return buckets
}
