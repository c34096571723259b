package stats

import (
	"sync"
	"time"
)

// DefaultReportInterval is the minimum wall-clock gap between summaries
const DefaultReportInterval = 10 * time.Second

// Reporter rate-limits statistics summaries across all work loops
type Reporter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewReporter creates a reporter whose first summary is due one interval from now
func NewReporter(interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	r := &Reporter{interval: interval, now: time.Now}
	r.last = r.now()
	return r
}

// Due reports whether a summary should be emitted now and, if so, claims it
func (r *Reporter) Due() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}
