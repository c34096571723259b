package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bardlex/gomp-miner/internal/config"
	"github.com/bardlex/gomp-miner/internal/framing"
	"github.com/bardlex/gomp-miner/internal/pool"
	"github.com/bardlex/gomp-miner/pkg/log"
)

func TestExecute_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"too many arguments", []string{"a", "b", "c"}},
		{"unknown flag", []string{"--bogus"}},
		{"bad address", []string{"host:notaport"}},
		{"bad workers", []string{"--workers", "0", "127.0.0.1"}},
		{"bad handshake", []string{"--handshake", "csv", "127.0.0.1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := execute(context.Background(), tt.args, &stdout, &stderr)
			if code != exitUsage {
				t.Errorf("execute(%v) = %d, want %d; stderr: %s", tt.args, code, exitUsage, stderr.String())
			}
			if !strings.Contains(stderr.String(), "miner:") {
				t.Errorf("stderr = %q, want an error message", stderr.String())
			}
		})
	}
}

func TestExecute_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := execute(context.Background(), []string{"--help"}, &stdout, &stderr); code != exitOK {
		t.Errorf("execute(--help) = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "CONNECT") {
		t.Errorf("help output = %q", stdout.String())
	}
}

func TestApplyOverrides(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	if err := cmd.ParseFlags([]string{"-v", "--workers", "3", "--cycles", "42", "--handshake", "joined"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	opts := &options{}
	flags := cmd.Flags()
	opts.verbose, _ = flags.GetBool("verbose")
	opts.workers, _ = flags.GetInt("workers")
	opts.cycles, _ = flags.GetUint64("cycles")
	opts.handshake, _ = flags.GetString("handshake")
	opts.logFormat, _ = flags.GetString("log-format")

	cfg := config.Default()
	cfg.Logging.Format = "json"
	applyOverrides(cmd, cfg, opts, []string{"pool.example.org", "rewards-key"})

	if cfg.Pool.Addr != "pool.example.org" || cfg.Pool.RewardAddress != "rewards-key" {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Mining.Workers != 3 || cfg.Mining.CycleCount != 42 {
		t.Errorf("mining = %+v", cfg.Mining)
	}
	if cfg.Pool.HandshakeFormat != "joined" {
		t.Errorf("HandshakeFormat = %q, want joined", cfg.Pool.HandshakeFormat)
	}
	// Unset flags leave the loaded value alone
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestApplyOverrides_DebugWins(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cfg := config.Default()
	applyOverrides(cmd, cfg, &options{verbose: true, debug: true}, nil)
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestBuildSinks_LogOnly(t *testing.T) {
	sinks := buildSinks(context.Background(), config.Default(), log.Discard())
	if len(sinks) != 1 || sinks[0].Name() != "log" {
		t.Errorf("sinks = %v, want only the log sink", sinks)
	}
}

func TestBuildSinks_UnreachableRedisSkipped(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Redis.Addr = "127.0.0.1:1"
	cfg.Telemetry.Kafka.Brokers = []string{"127.0.0.1:1"}

	sinks := buildSinks(context.Background(), cfg, log.Discard())
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	// Kafka connects lazily, Redis is pinged up front
	if strings.Join(names, ",") != "log,kafka" {
		t.Errorf("sinks = %v, want [log kafka]", names)
	}
	for _, s := range sinks {
		_ = s.Close()
	}
}

func TestExecute_MinesUntilCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handshake := make(chan []string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		peer := framing.New(conn)

		frames := make([]string, 0, 3)
		for i := 0; i < 3; i++ {
			s, err := peer.ReceiveString()
			if err != nil {
				return
			}
			frames = append(frames, s)
		}
		handshake <- frames
		if peer.Send(pool.ReplyOK) != nil {
			return
		}

		// Serve unreachable jobs; stop after a few requests
		for i := 0; ; i++ {
			marker, err := peer.ReceiveString()
			if err != nil || marker != pool.MarkerFetch {
				return
			}
			if i == 3 {
				cancel()
				_, _ = peer.Receive()
				return
			}
			if peer.Send(1e9, "abc", "def") != nil {
				return
			}
		}
	}()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- execute(ctx, []string{"--cycles", "10", "--log-format", "text", listener.Addr().String(), "my-rewards"}, &stdout, &stderr)
	}()

	select {
	case code := <-done:
		if code != exitOK {
			t.Errorf("execute() = %d, want 0; stderr: %s", code, stderr.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("miner did not stop after cancellation")
	}

	select {
	case frames := <-handshake:
		if frames[0] != pool.MarkerVersion || frames[2] != "my-rewards" {
			t.Errorf("handshake = %v", frames)
		}
	default:
		t.Error("pool never saw a handshake")
	}
}
