// Package config provides configuration management for the GOMP miner.
// Values come from defaults, an optional .env file, an optional YAML file and
// environment variables, in increasing order of precedence.
package config

import (
	stderrors "errors"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bardlex/gomp-miner/internal/pool"
	"github.com/bardlex/gomp-miner/pkg/errors"
)

// EnvConfigFile names the YAML file when no path is given
const EnvConfigFile = "MINER_CONFIG"

// Config holds the miner configuration
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Mining    MiningConfig    `yaml:"mining"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PoolConfig describes the pool endpoint and session behaviour
type PoolConfig struct {
	Addr            string        `yaml:"addr"`
	RewardAddress   string        `yaml:"reward_address"`
	RewardOverride  string        `yaml:"reward_override"`
	HandshakeFormat string        `yaml:"handshake_format"`
	ClientVersion   string        `yaml:"client_version"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
}

// MiningConfig sizes the search
type MiningConfig struct {
	CycleCount     uint64        `yaml:"cycle_count"`
	Workers        int           `yaml:"workers"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig enables optional sinks; an empty address disables a sink
type TelemetryConfig struct {
	QueueSize int          `yaml:"queue_size"`
	Influx    InfluxConfig `yaml:"influx"`
	Kafka     KafkaConfig  `yaml:"kafka"`
	Redis     RedisConfig  `yaml:"redis"`
}

// InfluxConfig holds InfluxDB connection configuration
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// KafkaConfig holds Kafka producer configuration
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	StatusTTL time.Duration `yaml:"status_ttl"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Addr:            "127.0.0.1:" + strconv.Itoa(pool.DefaultPort),
			HandshakeFormat: string(pool.FormatFrames),
			ClientVersion:   "gomp-miner/dev",
			ConnectTimeout:  pool.DefaultConnectTimeout,
			ReconnectDelay:  5 * time.Second,
		},
		Mining: MiningConfig{
			CycleCount:     500000,
			Workers:        1,
			ReportInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			QueueSize: 256,
			Influx: InfluxConfig{
				Org:    "gomp",
				Bucket: "mining",
			},
			Kafka: KafkaConfig{
				Topic: "miner.solutions",
			},
			Redis: RedisConfig{
				StatusTTL: time.Minute,
			},
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// MINER_CONFIG is consulted. The result is not validated because command
// line flags still apply on top; call Validate afterwards.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load_dotenv", "failed to load .env file")
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "read_config", "failed to read config file").
			WithContext("path", path)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "parse_config", "failed to parse config file").
			WithContext("path", path)
	}
	return nil
}

func (c *Config) applyEnv() error {
	env := &envReader{}

	env.setString("POOL_ADDR", &c.Pool.Addr)
	env.setString("REWARD_ADDRESS", &c.Pool.RewardAddress)
	env.setString("REWARD_OVERRIDE", &c.Pool.RewardOverride)
	env.setString("HANDSHAKE_FORMAT", &c.Pool.HandshakeFormat)
	env.setString("CLIENT_VERSION", &c.Pool.ClientVersion)
	env.setDuration("CONNECT_TIMEOUT", &c.Pool.ConnectTimeout)
	env.setDuration("READ_TIMEOUT", &c.Pool.ReadTimeout)
	env.setDuration("RECONNECT_DELAY", &c.Pool.ReconnectDelay)

	env.setUint("CYCLE_COUNT", &c.Mining.CycleCount)
	env.setInt("WORKERS", &c.Mining.Workers)
	env.setDuration("REPORT_INTERVAL", &c.Mining.ReportInterval)

	env.setString("LOG_LEVEL", &c.Logging.Level)
	env.setString("LOG_FORMAT", &c.Logging.Format)

	env.setInt("TELEMETRY_QUEUE_SIZE", &c.Telemetry.QueueSize)
	env.setString("INFLUX_URL", &c.Telemetry.Influx.URL)
	env.setString("INFLUX_TOKEN", &c.Telemetry.Influx.Token)
	env.setString("INFLUX_ORG", &c.Telemetry.Influx.Org)
	env.setString("INFLUX_BUCKET", &c.Telemetry.Influx.Bucket)
	env.setList("KAFKA_BROKERS", &c.Telemetry.Kafka.Brokers)
	env.setString("KAFKA_TOPIC", &c.Telemetry.Kafka.Topic)
	env.setString("REDIS_ADDR", &c.Telemetry.Redis.Addr)
	env.setString("REDIS_PASSWORD", &c.Telemetry.Redis.Password)
	env.setInt("REDIS_DB", &c.Telemetry.Redis.DB)
	env.setDuration("STATUS_TTL", &c.Telemetry.Redis.StatusTTL)

	return env.err
}

// Validate checks the configuration and normalises the pool address
func (c *Config) Validate() error {
	addr, err := ParsePoolAddress(c.Pool.Addr)
	if err != nil {
		return err
	}
	c.Pool.Addr = addr

	if _, err := pool.ParseHandshakeFormat(c.Pool.HandshakeFormat); err != nil {
		return err
	}

	switch {
	case c.Mining.CycleCount == 0:
		return invalid("cycle_count", "must be positive", c.Mining.CycleCount)
	case c.Mining.Workers < 1:
		return invalid("workers", "must be at least 1", c.Mining.Workers)
	case c.Mining.ReportInterval <= 0:
		return invalid("report_interval", "must be positive", c.Mining.ReportInterval)
	case c.Pool.ConnectTimeout <= 0:
		return invalid("connect_timeout", "must be positive", c.Pool.ConnectTimeout)
	case c.Pool.ReadTimeout < 0:
		return invalid("read_timeout", "must not be negative", c.Pool.ReadTimeout)
	case c.Pool.ReconnectDelay <= 0:
		return invalid("reconnect_delay", "must be positive", c.Pool.ReconnectDelay)
	case c.Telemetry.QueueSize < 1:
		return invalid("telemetry.queue_size", "must be at least 1", c.Telemetry.QueueSize)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "console", "":
	default:
		return invalid("logging.format", "must be json, text or console", c.Logging.Format)
	}

	return nil
}

func invalid(field, message string, value any) error {
	return errors.New(errors.ErrorTypeConfig, "validate", field+" "+message).
		WithContext("field", field).
		WithContext("value", value)
}

// ParsePoolAddress resolves host[:port] to host:port, defaulting the port
// to the pool's well-known port
func ParsePoolAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New(errors.ErrorTypeConfig, "parse_pool_address", "pool address is empty")
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		switch {
		case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
			host = s[1 : len(s)-1]
		case !strings.Contains(s, ":"):
			host = s
		case strings.Count(s, ":") > 1 && !strings.ContainsAny(s, "[]"):
			// Bare IPv6 literal
			host = s
		default:
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "parse_pool_address", "invalid pool address").
				WithContext("addr", s)
		}
		port = strconv.Itoa(pool.DefaultPort)
	}

	if host == "" {
		return "", errors.New(errors.ErrorTypeConfig, "parse_pool_address", "pool host is empty").
			WithContext("addr", s)
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", errors.New(errors.ErrorTypeConfig, "parse_pool_address", "pool port must be between 1 and 65535").
			WithContext("addr", s)
	}

	return net.JoinHostPort(host, port), nil
}

// envReader applies set variables and keeps the first parse error
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" || e.err != nil {
		return "", false
	}
	return value, true
}

func (e *envReader) fail(key, value string, err error) {
	e.err = errors.Wrap(err, errors.ErrorTypeConfig, "parse_env", "invalid environment variable").
		WithContext("key", key).
		WithContext("value", value)
}

func (e *envReader) setString(key string, dst *string) {
	if value, ok := e.lookup(key); ok {
		*dst = value
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if value, ok := e.lookup(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			e.fail(key, value, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) setUint(key string, dst *uint64) {
	if value, ok := e.lookup(key); ok {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			e.fail(key, value, err)
			return
		}
		*dst = parsed
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if value, ok := e.lookup(key); ok {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			e.fail(key, value, err)
			return
		}
		*dst = parsed
	}
}

// setList parses a comma-separated value, skipping empty items
func (e *envReader) setList(key string, dst *[]string) {
	if value, ok := e.lookup(key); ok {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*dst = items
	}
}
