package miner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run starts workers independent loops sharing deps.Stats, deps.Reporter and
// deps.Telemetry, and waits for all of them. The first unrecoverable error
// stops the others.
func Run(ctx context.Context, cfg Config, workers int, deps Deps) error {
	if workers < 1 {
		workers = 1
	}
	loops := NewWorkers(cfg, workers, deps)

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		l := l
		g.Go(func() error {
			return l.Run(ctx)
		})
	}
	return g.Wait()
}

// NewWorkers creates n loops over one set of shared collaborators
func NewWorkers(cfg Config, n int, deps Deps) []*Loop {
	// Shared defaults must be created once, not per loop
	first := New(cfg, 0, deps)
	deps.Stats = first.stats
	deps.Reporter = first.reporter

	loops := []*Loop{first}
	for i := 1; i < n; i++ {
		loops = append(loops, New(cfg, i, deps))
	}
	return loops
}
