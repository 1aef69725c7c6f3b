package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Executor modes.
const (
	ExecutorLog   = "log"
	ExecutorGRPC  = "grpc"
	ExecutorKafka = "kafka"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds all application configuration.
type Config struct {
	Env                string `mapstructure:"env"`
	LocalStackEndpoint string `mapstructure:"localstack_endpoint"`
	HTTP               HTTPConfig
	Session            SessionConfig
	Feed               FeedConfig
	Redis              RedisConfig
	Executor           ExecutorConfig
	Kafka              KafkaConfig
	Signer             SignerConfig
	Log                LogConfig
}

// HTTPConfig holds the desk's HTTP listener settings.
type HTTPConfig struct {
	Addr              string `mapstructure:"addr"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
}

// SessionConfig holds swap session settings.
type SessionConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
}

// Debounce returns the quiet period as a duration.
func (s SessionConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}

// FeedConfig holds price source settings.
type FeedConfig struct {
	URL            string `mapstructure:"url"`
	IntervalSec    int    `mapstructure:"interval_sec"`
	StaleAfterSec  int    `mapstructure:"stale_after_sec"`
	BinanceEnabled bool   `mapstructure:"binance_enabled"`
	BinanceQuote   string `mapstructure:"binance_quote"`
	BinanceBaseURL string `mapstructure:"binance_base_url"`
	StreamURL      string `mapstructure:"stream_url"`
}

// Interval returns the poll interval.
func (f FeedConfig) Interval() time.Duration {
	return time.Duration(f.IntervalSec) * time.Second
}

// StaleAfter returns the freshness threshold.
func (f FeedConfig) StaleAfter() time.Duration {
	return time.Duration(f.StaleAfterSec) * time.Second
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// price cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// ExecutorConfig selects where confirmed swaps go.
type ExecutorConfig struct {
	Mode          string `mapstructure:"mode"`
	SocketPath    string `mapstructure:"socket_path"`
	AllowedSigner string `mapstructure:"allowed_signer"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	// Sink is where the executor process hands accepted exchanges: log or
	// kafka. Kafka delivery is logged as well.
	Sink string `mapstructure:"sink"`
	// MetricsAddr, when set, serves the executor process's metrics.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Timeout returns the per-request deadline towards the executor.
func (e ExecutorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSec) * time.Second
}

// KafkaConfig holds the exchange topic settings.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SignerConfig holds the summary signing key. KeyCiphertext, when set, is a
// base64 KMS ciphertext and takes precedence over KeyHex.
type SignerConfig struct {
	KeyHex        string `mapstructure:"key_hex"`
	KeyCiphertext string `mapstructure:"key_ciphertext"`
	AWSRegion     string `mapstructure:"aws_region"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// Load reads configuration from environment variables prefixed with SWAPDESK_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SWAPDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.requests_per_minute", 600)
	v.SetDefault("http.burst", 50)

	v.SetDefault("session.debounce_ms", 250)

	v.SetDefault("feed.url", "https://interview.switcheo.com/prices.json")
	v.SetDefault("feed.interval_sec", 15)
	v.SetDefault("feed.stale_after_sec", 60)
	v.SetDefault("feed.binance_enabled", false)
	v.SetDefault("feed.binance_quote", "USDT")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "swapdesk:prices")

	v.SetDefault("executor.mode", ExecutorLog)
	v.SetDefault("executor.socket_path", "/var/run/swapdesk/executor.sock")
	v.SetDefault("executor.timeout_sec", 5)
	v.SetDefault("executor.sink", ExecutorLog)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "swapdesk.exchanges")

	v.SetDefault("signer.aws_region", "us-east-1")

	v.SetDefault("log.level", "info")

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LocalStackEndpoint = v.GetString("localstack_endpoint")

	cfg.HTTP = HTTPConfig{
		Addr:              v.GetString("http.addr"),
		RequestsPerMinute: v.GetInt("http.requests_per_minute"),
		Burst:             v.GetInt("http.burst"),
	}

	cfg.Session = SessionConfig{
		DebounceMS: v.GetInt("session.debounce_ms"),
	}

	cfg.Feed = FeedConfig{
		URL:            v.GetString("feed.url"),
		IntervalSec:    v.GetInt("feed.interval_sec"),
		StaleAfterSec:  v.GetInt("feed.stale_after_sec"),
		BinanceEnabled: v.GetBool("feed.binance_enabled"),
		BinanceQuote:   v.GetString("feed.binance_quote"),
		BinanceBaseURL: v.GetString("feed.binance_base_url"),
		StreamURL:      v.GetString("feed.stream_url"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
		Key:      v.GetString("redis.key"),
	}

	cfg.Executor = ExecutorConfig{
		Mode:          strings.ToLower(strings.TrimSpace(v.GetString("executor.mode"))),
		SocketPath:    v.GetString("executor.socket_path"),
		AllowedSigner: v.GetString("executor.allowed_signer"),
		TimeoutSec:    v.GetInt("executor.timeout_sec"),
		Sink:          strings.ToLower(strings.TrimSpace(v.GetString("executor.sink"))),
		MetricsAddr:   v.GetString("executor.metrics_addr"),
	}

	cfg.Kafka = KafkaConfig{
		Brokers: splitList(v.GetString("kafka.brokers")),
		Topic:   v.GetString("kafka.topic"),
	}

	cfg.Signer = SignerConfig{
		KeyHex:        v.GetString("signer.key_hex"),
		KeyCiphertext: v.GetString("signer.key_ciphertext"),
		AWSRegion:     v.GetString("signer.aws_region"),
	}

	cfg.Log = LogConfig{
		File:  v.GetString("log.file"),
		Level: v.GetString("log.level"),
	}

	return cfg, nil
}

// Validate checks the settings the desk cannot start without.
func (c *Config) Validate() error {
	if c.Session.DebounceMS < 0 {
		return fmt.Errorf("%w: session.debounce_ms must not be negative", ErrInvalid)
	}
	if c.Feed.IntervalSec <= 0 {
		return fmt.Errorf("%w: feed.interval_sec must be positive", ErrInvalid)
	}
	if c.Feed.URL == "" && !c.Feed.BinanceEnabled && c.Feed.StreamURL == "" {
		return fmt.Errorf("%w: at least one price source is required", ErrInvalid)
	}
	if c.HTTP.RequestsPerMinute < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("%w: http rate limits must not be negative", ErrInvalid)
	}
	switch c.Executor.Mode {
	case ExecutorLog:
	case ExecutorGRPC:
		if c.Executor.SocketPath == "" {
			return fmt.Errorf("%w: executor.socket_path is required in grpc mode", ErrInvalid)
		}
	case ExecutorKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("%w: kafka.brokers and kafka.topic are required in kafka mode", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown executor.mode %q", ErrInvalid, c.Executor.Mode)
	}
	return nil
}

// ValidateExecutor checks the settings of the executor process.
func (c *Config) ValidateExecutor() error {
	if c.Executor.SocketPath == "" {
		return fmt.Errorf("%w: executor.socket_path is required", ErrInvalid)
	}
	if c.Executor.AllowedSigner == "" {
		return fmt.Errorf("%w: executor.allowed_signer is required", ErrInvalid)
	}
	switch c.Executor.Sink {
	case ExecutorLog:
	case ExecutorKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("%w: kafka.brokers and kafka.topic are required for the kafka sink", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown executor.sink %q", ErrInvalid, c.Executor.Sink)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
