// Package main implements the GOMP miner: it connects to a pool, fetches
// work, searches for solutions and submits them in exchange for more work.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bardlex/gomp-miner/internal/config"
	"github.com/bardlex/gomp-miner/internal/miner"
	"github.com/bardlex/gomp-miner/internal/oracle"
	"github.com/bardlex/gomp-miner/internal/pool"
	"github.com/bardlex/gomp-miner/internal/stats"
	"github.com/bardlex/gomp-miner/internal/telemetry"
	"github.com/bardlex/gomp-miner/pkg/errors"
	"github.com/bardlex/gomp-miner/pkg/log"
)

var version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath string
	verbose    bool
	debug      bool
	workers    int
	cycles     uint64
	logFormat  string
	handshake  string
}

// execute runs the command line and maps the outcome to an exit code
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "miner: %v\n", err)
		if errors.IsType(err, errors.ErrorTypeConfig) {
			return exitUsage
		}
		return exitFailure
	}
	return exitOK
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "miner [flags] [CONNECT] [REWARDS]",
		Short: "GOMP pool miner",
		Long: `Connects to a mining pool at CONNECT (host[:port], default port 5659),
fetches work, and submits solutions crediting the REWARDS address.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(2)(cmd, args); err != nil {
				return usageError(err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			applyOverrides(cmd, cfg, opts, args)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runMiner(cmd.Context(), cfg, logOut)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file (default $MINER_CONFIG)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log informational messages")
	flags.BoolVar(&opts.debug, "debug", false, "log debugging messages")
	flags.IntVar(&opts.workers, "workers", 1, "number of parallel work loops")
	flags.Uint64Var(&opts.cycles, "cycles", miner.DefaultCycleCount, "search iterations per oracle call")
	flags.StringVar(&opts.logFormat, "log-format", "console", "log format: console, text or json")
	flags.StringVar(&opts.handshake, "handshake", string(pool.FormatFrames), "handshake format: frames or joined")

	return cmd
}

func usageError(err error) error {
	return errors.Wrap(err, errors.ErrorTypeConfig, "parse_args", "invalid arguments")
}

// applyOverrides lays explicitly set flags and positional arguments over cfg
func applyOverrides(cmd *cobra.Command, cfg *config.Config, opts *options, args []string) {
	flags := cmd.Flags()

	if len(args) > 0 {
		cfg.Pool.Addr = args[0]
	}
	if len(args) > 1 {
		cfg.Pool.RewardAddress = args[1]
	}

	switch {
	case opts.debug:
		cfg.Logging.Level = "debug"
	case opts.verbose:
		cfg.Logging.Level = "info"
	}

	if flags.Changed("workers") {
		cfg.Mining.Workers = opts.workers
	}
	if flags.Changed("cycles") {
		cfg.Mining.CycleCount = opts.cycles
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
	if flags.Changed("handshake") {
		cfg.Pool.HandshakeFormat = opts.handshake
	}
}

// runMiner mines until ctx is cancelled
func runMiner(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := log.NewWithWriter(logOut, "miner", version, cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting miner",
		"pool", cfg.Pool.Addr,
		"workers", cfg.Mining.Workers,
		"cycle_count", cfg.Mining.CycleCount,
	)

	events := telemetry.NewDispatcher(logger, cfg.Telemetry.QueueSize, buildSinks(ctx, cfg, logger)...)
	events.Start()
	defer func() {
		if err := events.Close(); err != nil {
			logger.WithError(err).Warn("failed to close telemetry")
		}
	}()

	statistics := stats.New()
	defer statistics.Stop()

	format, err := pool.ParseHandshakeFormat(cfg.Pool.HandshakeFormat)
	if err != nil {
		return err
	}

	err = miner.Run(ctx, miner.Config{
		Addr:           cfg.Pool.Addr,
		ClientVersion:  cfg.Pool.ClientVersion,
		RewardIdentity: cfg.Pool.RewardAddress,
		RewardOverride: cfg.Pool.RewardOverride,
		Format:         format,
		CycleCount:     cfg.Mining.CycleCount,
		ConnectTimeout: cfg.Pool.ConnectTimeout,
		ReadTimeout:    cfg.Pool.ReadTimeout,
		ReconnectDelay: cfg.Pool.ReconnectDelay,
	}, cfg.Mining.Workers, miner.Deps{
		Oracle:    oracle.Hexbin{},
		Stats:     statistics,
		Reporter:  stats.NewReporter(cfg.Mining.ReportInterval),
		Telemetry: events,
		Logger:    logger,
	})

	snap := statistics.Snapshot()
	logger.Info("miner stopped",
		"iterations", snap.Iterations,
		"solves", snap.Solves,
		"cycles_per_sec", snap.Throughput(),
	)
	return err
}

// buildSinks connects the configured telemetry sinks. A sink that cannot be
// reached is skipped; mining does not depend on any of them.
func buildSinks(ctx context.Context, cfg *config.Config, logger *log.Logger) []telemetry.Sink {
	sinks := []telemetry.Sink{telemetry.NewLogSink(logger)}
	tc := cfg.Telemetry

	if tc.Influx.URL != "" {
		sink, err := telemetry.NewInfluxSink(ctx, &telemetry.InfluxConfig{
			URL:    tc.Influx.URL,
			Token:  tc.Influx.Token,
			Org:    tc.Influx.Org,
			Bucket: tc.Influx.Bucket,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("influx telemetry disabled")
		} else {
			sinks = append(sinks, sink)
		}
	}

	if len(tc.Kafka.Brokers) > 0 {
		sinks = append(sinks, telemetry.NewKafkaSink(tc.Kafka.Brokers, tc.Kafka.Topic, logger))
	}

	if tc.Redis.Addr != "" {
		sink, err := telemetry.NewRedisSink(ctx, &telemetry.RedisConfig{
			Addr:      tc.Redis.Addr,
			Password:  tc.Redis.Password,
			DB:        tc.Redis.DB,
			StatusTTL: tc.Redis.StatusTTL,
		})
		if err != nil {
			logger.WithError(err).Warn("redis telemetry disabled")
		} else {
			sinks = append(sinks, sink)
		}
	}

	return sinks
}
