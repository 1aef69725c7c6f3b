package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/caesar-terminal/swapdesk/internal/config"
	"github.com/caesar-terminal/swapdesk/internal/executor"
	"github.com/caesar-terminal/swapdesk/internal/feed"
	"github.com/caesar-terminal/swapdesk/internal/httpapi"
	"github.com/caesar-terminal/swapdesk/internal/kms"
	"github.com/caesar-terminal/swapdesk/internal/logging"
	"github.com/caesar-terminal/swapdesk/internal/metrics"
	"github.com/caesar-terminal/swapdesk/internal/signer"
	"github.com/caesar-terminal/swapdesk/internal/swap"
)

func main() {
	defer memguard.Purge()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("swapdesk", cfg.Env, logging.Options{File: cfg.Log.File, Level: cfg.Log.Level})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("swapdesk: fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("swapdesk: stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	desk := metrics.New(reg)

	healthCfg := feed.DefaultHealthConfig()
	healthCfg.StaleAfter = cfg.Feed.StaleAfter()
	health := feed.NewHealth(healthCfg)

	opts := []feed.Option{feed.WithLogger(logger), feed.WithMetrics(desk), feed.WithHealth(health)}
	var sources []feed.Source
	if cfg.Feed.URL != "" {
		sources = append(sources, feed.NewHTTPSource("http", cfg.Feed.URL, nil))
	}
	if cfg.Feed.BinanceEnabled {
		sources = append(sources, feed.NewBinanceSource(cfg.Feed.BinanceQuote, cfg.Feed.BinanceBaseURL))
	}
	if cfg.Feed.StreamURL != "" {
		ws := feed.NewWSClient(feed.DefaultWSConfig(cfg.Feed.StreamURL), logger)
		defer ws.Close()
		stream := feed.NewStreamSource("stream", ws, logger)
		go stream.Run(ctx)
		if err := ws.Connect(ctx); err != nil {
			logger.Warn("swapdesk: price stream unavailable, continuing without it",
				"url", cfg.Feed.StreamURL, "error", err)
		} else {
			health.WatchConnection(stream.Name(), ws)
			sources = append(sources, stream)
			opts = append(opts, feed.WithTrigger(stream.Updated()))
		}
	}
	if len(sources) == 0 {
		return errors.New("no price source is reachable")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		opts = append(opts, feed.WithStore(feed.NewRedisStore(rdb, cfg.Redis.Key)))
	}

	tables := feed.NewBroadcaster()
	defer tables.Close()
	poller, err := feed.NewPoller(sources, cfg.Feed.Interval(), tables, opts...)
	if err != nil {
		return err
	}

	sig, err := loadSigner(ctx, cfg)
	if err != nil {
		return err
	}
	var deskSigner executor.Signer
	if sig != nil {
		defer sig.Destroy()
		deskSigner = sig
		logger.Info("swapdesk: summaries will be signed", "address", sig.Address().Hex())
	}

	exec, closeExec, err := newExecutor(cfg, deskSigner, logger)
	if err != nil {
		return err
	}
	defer closeExec()

	manager := swap.NewManager(exec,
		swap.WithSessionDebounce(cfg.Session.Debounce()),
		swap.WithMetrics(desk),
		swap.WithManagerLogger(logger),
	)
	go manager.Run(ctx, tables.Subscribe())
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("swapdesk: poller stopped", "error", err)
		}
	}()

	api := httpapi.New(httpapi.Config{
		Sessions:          manager,
		Health:            health,
		Observer:          desk,
		Gatherer:          reg,
		Logger:            logger,
		RequestsPerMinute: float64(cfg.HTTP.RequestsPerMinute),
		Burst:             cfg.HTTP.Burst,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("swapdesk: listening", "addr", cfg.HTTP.Addr, "executor", cfg.Executor.Mode, "sources", len(sources))

	select {
	case <-ctx.Done():
		logger.Info("swapdesk: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// loadSigner returns the desk signing key, or nil when none is configured.
func loadSigner(ctx context.Context, cfg *config.Config) (*signer.Signer, error) {
	switch {
	case cfg.Signer.KeyCiphertext != "":
		client, err := kms.New(ctx, kms.Options{
			Region:   cfg.Signer.AWSRegion,
			Endpoint: cfg.LocalStackEndpoint,
		})
		if err != nil {
			return nil, err
		}
		key, err := client.DecryptSigningKey(ctx, cfg.Signer.KeyCiphertext)
		if err != nil {
			return nil, err
		}
		return signer.New(key)
	case cfg.Signer.KeyHex != "":
		return signer.FromHex(cfg.Signer.KeyHex)
	default:
		return nil, nil
	}
}

func newExecutor(cfg *config.Config, s executor.Signer, logger *slog.Logger) (swap.Executor, func(), error) {
	switch cfg.Executor.Mode {
	case config.ExecutorGRPC:
		if s == nil {
			return nil, nil, errors.New("grpc executor requires a signing key")
		}
		client, err := executor.Dial(cfg.Executor.SocketPath, s, cfg.Executor.Timeout(), logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	case config.ExecutorKafka:
		w := executor.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		return executor.NewKafka(s, w), func() { w.Close() }, nil
	default:
		return executor.NewLog(s, logger), func() {}, nil
	}
}
