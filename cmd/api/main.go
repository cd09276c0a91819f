package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"go.uber.org/zap"

	"policyhub-backend/infrastructure/config"
	"policyhub-backend/infrastructure/di"
	"policyhub-backend/infrastructure/observability"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "path to the YAML configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer cleanup()
	logger := container.Logging.Logger

	// Only the log level follows the file at runtime, everything else
	// needs a restart
	if _, err := os.Stat(*configPath); err == nil {
		watcher, err := config.NewWatcher(*configPath, cfg, logger)
		if err != nil {
			logger.Warn("Configuration hot reload unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
			watcher.OnChange(observability.FollowLogLevel(container.Logging.Level, logger))
		}
	}

	if cfg.Outbox.Enabled {
		container.Outbox.Start(ctx)
		defer container.Outbox.Stop()
	}

	handler := container.Router
	if cfg.Tracing.Enabled {
		handler = xray.Handler(xray.NewFixedSegmentNamer("policyhub-api"), handler)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("address", cfg.Server.Address),
			zap.String("environment", cfg.Environment),
			zap.String("event_store", cfg.EventStore.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
