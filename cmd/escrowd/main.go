package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"saleescrow/config"
	"saleescrow/observability/logging"
	telemetry "saleescrow/observability/otel"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./escrowd.toml", "Path to the configuration file (TOML, or YAML by extension)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, logCloser, err := logging.Setup("escrowd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() {
		_ = logCloser.Close()
	}()
	logger.Info("configuration loaded",
		slog.String("config", configFile),
		slog.String("storage", cfg.StorageBackend),
		slog.String("listen", cfg.ListenAddress),
		logging.MaskField("auth_secret", cfg.Auth.Secret))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Environment,
		Endpoint:    strings.TrimSpace(cfg.Telemetry.Endpoint),
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.close()

	g, gctx := errgroup.WithContext(ctx)
	if n.index != nil {
		g.Go(func() error {
			if err := n.index.Run(gctx, n.log); err != nil {
				return fmt.Errorf("indexer: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := n.server.Start(cfg.ListenAddress); err != nil {
			return fmt.Errorf("serve json-rpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := n.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("rpc shutdown", slog.Any("error", err))
		}
		return nil
	})
	return g.Wait()
}
