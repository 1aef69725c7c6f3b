package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/caesar-terminal/swapdesk/internal/config"
	"github.com/caesar-terminal/swapdesk/internal/executor"
	"github.com/caesar-terminal/swapdesk/internal/logging"
	"github.com/caesar-terminal/swapdesk/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateExecutor(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if !common.IsHexAddress(cfg.Executor.AllowedSigner) {
		fmt.Fprintf(os.Stderr, "invalid executor.allowed_signer %q\n", cfg.Executor.AllowedSigner)
		os.Exit(1)
	}

	logger := logging.Setup("swapdesk-executor", cfg.Env, logging.Options{File: cfg.Log.File, Level: cfg.Log.Level})

	sinks := executor.Sinks{executor.LogSink{Logger: logger}}
	if cfg.Executor.Sink == config.ExecutorKafka {
		kafkaSink := executor.NewKafkaSink(executor.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	reg := prometheus.NewRegistry()
	desk := metrics.New(reg)
	if addr := cfg.Executor.MetricsAddr; addr != "" {
		metricsSrv := &http.Server{Addr: addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("executor: metrics listener failed", "addr", addr, "error", err)
			}
		}()
		defer metricsSrv.Close()
	}
	handler, err := executor.NewHandler(
		[]common.Address{common.HexToAddress(cfg.Executor.AllowedSigner)},
		sinks, logger, desk)
	if err != nil {
		logger.Error("executor: init failed", "error", err)
		os.Exit(1)
	}

	srv, err := executor.NewServer(cfg.Executor.SocketPath, handler)
	if err != nil {
		logger.Error("executor: failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Run gRPC server in a goroutine so we can wait for shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	logger.Info("executor: listening", "socket", cfg.Executor.SocketPath, "sink", cfg.Executor.Sink)

	select {
	case <-ctx.Done():
		logger.Info("executor: shutting down gracefully")
		srv.GracefulStop()
	case err := <-errCh:
		if err != nil {
			logger.Error("executor: server error", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("executor: stopped")
}
