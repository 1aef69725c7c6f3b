package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env=development, got %s", cfg.Env)
	}

	if cfg.Session.Debounce() != 250*time.Millisecond {
		t.Errorf("expected 250ms debounce, got %s", cfg.Session.Debounce())
	}

	if cfg.Feed.URL != "https://interview.switcheo.com/prices.json" {
		t.Errorf("unexpected feed url: %s", cfg.Feed.URL)
	}

	if cfg.Executor.Mode != ExecutorLog {
		t.Errorf("expected log executor, got %s", cfg.Executor.Mode)
	}

	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("unexpected kafka brokers: %v", cfg.Kafka.Brokers)
	}

	if cfg.Redis.Addr != "" {
		t.Errorf("expected redis cache disabled by default, got %s", cfg.Redis.Addr)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SWAPDESK_ENV", "production")
	t.Setenv("SWAPDESK_SESSION_DEBOUNCE_MS", "0")
	t.Setenv("SWAPDESK_EXECUTOR_MODE", "GRPC")
	t.Setenv("SWAPDESK_KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("SWAPDESK_FEED_BINANCE_ENABLED", "true")
	t.Setenv("SWAPDESK_SIGNER_KEY_CIPHERTEXT", "Y2lwaGVy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env=production, got %s", cfg.Env)
	}
	if cfg.Session.Debounce() != 0 {
		t.Errorf("expected synchronous sessions, got %s", cfg.Session.Debounce())
	}
	if cfg.Executor.Mode != ExecutorGRPC {
		t.Errorf("expected grpc mode, got %s", cfg.Executor.Mode)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("unexpected kafka brokers: %v", cfg.Kafka.Brokers)
	}
	if !cfg.Feed.BinanceEnabled {
		t.Error("expected binance enabled")
	}
	if cfg.Signer.KeyCiphertext != "Y2lwaGVy" {
		t.Errorf("unexpected ciphertext: %s", cfg.Signer.KeyCiphertext)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cases := map[string]func(c *Config){
		"negative debounce": func(c *Config) { c.Session.DebounceMS = -1 },
		"zero interval":     func(c *Config) { c.Feed.IntervalSec = 0 },
		"no sources":        func(c *Config) { c.Feed.URL = "" },
		"unknown mode":      func(c *Config) { c.Executor.Mode = "carrier-pigeon" },
		"grpc no socket": func(c *Config) {
			c.Executor.Mode = ExecutorGRPC
			c.Executor.SocketPath = ""
		},
		"kafka no topic": func(c *Config) {
			c.Executor.Mode = ExecutorKafka
			c.Kafka.Topic = ""
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidateExecutor(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ValidateExecutor(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("missing allowed signer should fail, got %v", err)
	}

	cfg.Executor.AllowedSigner = "0x00000000000000000000000000000000000000aa"
	if err := cfg.ValidateExecutor(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Executor.Sink = "tape"
	if err := cfg.ValidateExecutor(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("unknown sink should fail, got %v", err)
	}

	cfg.Executor.Sink = ExecutorKafka
	cfg.Kafka.Brokers = nil
	if err := cfg.ValidateExecutor(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("kafka sink without brokers should fail, got %v", err)
	}
}
