// Package miner drives the fetch, search and exchange cycle against a pool
// and keeps it running across connection failures.
package miner

import (
	"context"
	"crypto/rand"
	"io"
	"sync/atomic"
	"time"

	"github.com/bardlex/gomp-miner/internal/pool"
	"github.com/bardlex/gomp-miner/internal/stats"
	"github.com/bardlex/gomp-miner/internal/telemetry"
	"github.com/bardlex/gomp-miner/pkg/errors"
	"github.com/bardlex/gomp-miner/pkg/log"
	"github.com/bardlex/gomp-miner/pkg/retry"
)

const (
	// DefaultCycleCount is the iteration budget of one oracle call
	DefaultCycleCount = 500000
	// DefaultReconnectDelay is the fixed wait before reconnecting
	DefaultReconnectDelay = 5 * time.Second
	// SeedSize is the number of fresh random bytes handed to each search
	SeedSize = 32
)

// Oracle searches for and scores proof-of-work solutions. Implementations
// must be deterministic for identical inputs.
type Oracle interface {
	Search(difficulty float64, address, contextHash string, budget uint64, seed []byte) (iterations uint64, solution string, found bool)
	Score(address, solution, contextHash string) float64
}

// Config holds the settings of one work loop
type Config struct {
	Addr           string
	ClientVersion  string
	RewardIdentity string
	// RewardOverride, when set, is searched and scored in place of the job
	// address. An exchange carries only difficulty, block and nonce, so the
	// submitted result cannot name it: the pool must already verify this
	// worker's solutions against the same address (normally because it was
	// announced as RewardIdentity). A pool that verifies against the job
	// address will reject these solutions.
	RewardOverride string
	Format         pool.HandshakeFormat
	CycleCount     uint64
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
}

// Deps are the collaborators of a work loop. Only Oracle is required.
type Deps struct {
	Oracle    Oracle
	Stats     *stats.Statistics
	Reporter  *stats.Reporter
	Telemetry *telemetry.Dispatcher
	Logger    *log.Logger
	Dialer    pool.Dialer
	// Sleep replaces the backoff timer
	Sleep retry.SleepFunc
	// Entropy is the seed source, crypto/rand by default
	Entropy io.Reader
}

// Loop is one worker: a single session at a time, strictly sequential
type Loop struct {
	cfg    Config
	worker int

	oracle   Oracle
	stats    *stats.Statistics
	reporter *stats.Reporter
	events   *telemetry.Dispatcher
	logger   *log.Logger
	dialer   pool.Dialer
	sleep    retry.SleepFunc
	entropy  io.Reader

	backoffs atomic.Uint64
}

// New creates worker number worker
func New(cfg Config, worker int, deps Deps) *Loop {
	if cfg.CycleCount == 0 {
		cfg.CycleCount = DefaultCycleCount
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if deps.Stats == nil {
		deps.Stats = stats.New()
	}
	if deps.Reporter == nil {
		deps.Reporter = stats.NewReporter(stats.DefaultReportInterval)
	}
	if deps.Logger == nil {
		deps.Logger = log.Discard()
	}
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	if deps.Entropy == nil {
		deps.Entropy = rand.Reader
	}

	return &Loop{
		cfg:      cfg,
		worker:   worker,
		oracle:   deps.Oracle,
		stats:    deps.Stats,
		reporter: deps.Reporter,
		events:   deps.Telemetry,
		logger:   deps.Logger.WithPool(cfg.Addr, worker),
		dialer:   deps.Dialer,
		sleep:    deps.Sleep,
		entropy:  deps.Entropy,
	}
}

// Backoffs returns how many reconnect waits the loop has performed
func (l *Loop) Backoffs() uint64 {
	return l.backoffs.Load()
}

// Run mines until ctx is cancelled, which returns nil. Only errors that no
// reconnect can fix are returned.
func (l *Loop) Run(ctx context.Context) error {
	if l.oracle == nil {
		return errors.New(errors.ErrorTypeConfig, "run", "no oracle configured")
	}

	l.logger.Info("starting work loop", "cycle_count", l.cfg.CycleCount)

	for {
		session, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		l.publishSession(pool.StateReady, nil)

		err = l.mine(ctx, session)
		session.Close()
		if ctx.Err() != nil {
			l.logger.Info("work loop stopped")
			return nil
		}

		l.publishSession(pool.StateDisconnected, err)
		if !errors.IsRetryable(err) {
			return err
		}
		l.logger.WithError(err).Warn("pool session lost", "error_type", string(errors.TypeOf(err)))

		if err := l.backoff(ctx); err != nil {
			return nil
		}
	}
}

// connect retries Connect with the fixed reconnect delay until it succeeds
func (l *Loop) connect(ctx context.Context) (*pool.Session, error) {
	cfg := retry.FixedConfig(l.cfg.ReconnectDelay)
	cfg.Sleep = l.sleep
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		l.backoffs.Add(1)
		l.logger.WithError(err).Warn("failed to connect to pool",
			"attempt", attempt,
			"retry_in", delay.String(),
		)
	}

	opts := pool.Options{
		ClientVersion:  l.cfg.ClientVersion,
		RewardIdentity: l.cfg.RewardIdentity,
		Format:         l.cfg.Format,
		ConnectTimeout: l.cfg.ConnectTimeout,
		ReadTimeout:    l.cfg.ReadTimeout,
		Dialer:         l.dialer,
		Logger:         l.logger,
	}

	return retry.DoWithResult(ctx, cfg, func() (*pool.Session, error) {
		return pool.Connect(ctx, l.cfg.Addr, opts)
	})
}

func (l *Loop) backoff(ctx context.Context) error {
	l.backoffs.Add(1)
	return l.sleep(ctx, l.cfg.ReconnectDelay)
}

// mine runs the steady-state cycle on one session. The first request is a
// fetch; later ones submit the previous result, if any.
func (l *Loop) mine(ctx context.Context, session *pool.Session) error {
	var result *pool.Result

	for {
		job, err := session.Exchange(result)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		result, err = l.solve(job, session.RemoteAddr())
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// solve runs one bounded search and returns the result to submit, or nil
func (l *Loop) solve(job pool.Job, remote string) (*pool.Result, error) {
	address := job.Address
	if l.cfg.RewardOverride != "" {
		address = l.cfg.RewardOverride
	}

	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(l.entropy, seed); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "seed", "failed to read entropy")
	}

	start := time.Now()
	iterations, solution, found := l.oracle.Search(job.Difficulty, address, job.Hash, l.cfg.CycleCount, seed)
	l.stats.Record(iterations, time.Since(start), job.Difficulty)

	var result *pool.Result
	if found {
		achieved := l.oracle.Score(address, solution, job.Hash)
		result = pool.NewResult(job, solution, achieved)
		l.stats.RecordSolve(achieved)
		l.logger.LogSolution(result.Difficulty, result.Block(), result.Nonce())

		l.events.Publish(telemetry.SolutionEvent{
			Time:       time.Now(),
			Worker:     l.worker,
			Pool:       remote,
			Identity:   address,
			Difficulty: job.Difficulty,
			Achieved:   achieved,
			Block:      result.Block(),
			Nonce:      result.Nonce(),
		})
	}

	l.report()
	return result, nil
}

func (l *Loop) report() {
	if !l.reporter.Due() {
		return
	}

	snap := l.stats.Snapshot()
	l.logger.LogStats(snap.Throughput(), snap.SolveRate(), snap.LastDifficulty, snap.Solves)
	l.events.Publish(telemetry.StatsEvent{Time: snap.Taken, Snapshot: snap})
}

func (l *Loop) publishSession(state pool.State, cause error) {
	ev := telemetry.SessionEvent{
		Time:   time.Now(),
		Worker: l.worker,
		Pool:   l.cfg.Addr,
		State:  state.String(),
	}
	if cause != nil {
		ev.Error = cause.Error()
		ev.ErrorType = string(errors.TypeOf(cause))
	}
	l.events.Publish(ev)
}
