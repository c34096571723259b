package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/gomp-miner/pkg/errors"
)

// DefaultStatusTTL is how long a status key outlives its last update
const DefaultStatusTTL = time.Minute

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	StatusTTL time.Duration
}

// statusStore is the part of *redis.Client the sink uses
type statusStore interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisSink keeps short-lived live status keys for dashboards:
// miner:status:<worker> per worker and miner:stats for the process.
type RedisSink struct {
	rdb statusStore
	ttl time.Duration
}

// NewRedisSink connects to Redis and pings it
func NewRedisSink(ctx context.Context, cfg *RedisConfig) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeTelemetry, "redis_ping", "failed to ping Redis").
			WithContext("addr", cfg.Addr)
	}

	return newRedisSink(rdb, cfg.StatusTTL), nil
}

func newRedisSink(rdb statusStore, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &RedisSink{rdb: rdb, ttl: ttl}
}

// Name implements Sink
func (s *RedisSink) Name() string { return "redis" }

// Handle implements Sink
func (s *RedisSink) Handle(ctx context.Context, e Event) error {
	key := statusKey(e)

	data, err := json.Marshal(fields(e))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode_status", "failed to marshal status")
	}

	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTelemetry, "set_status", "failed to set status").
			WithContext("key", key)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

func statusKey(e Event) string {
	switch ev := e.(type) {
	case SolutionEvent:
		return fmt.Sprintf("miner:status:%d", ev.Worker)
	case SessionEvent:
		return fmt.Sprintf("miner:status:%d", ev.Worker)
	default:
		return "miner:stats"
	}
}
