package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ktyurin/survcafe/internal/command"
	"github.com/ktyurin/survcafe/internal/config"
	"github.com/ktyurin/survcafe/internal/core"
)

const (
	defaultConfigPath = "config/survcafe.yaml"
	healthCheckPort   = "8080"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting survcafe service",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	server, err := core.NewServer(cfg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Start health check HTTP server (non-blocking)
	if err := server.StartHealthServer(healthCheckPort); err != nil {
		slog.Error("failed to start health check server", "error", err)
		os.Exit(1)
	}

	// Local command surfaces feed the same queue as the MQTT control plane
	if cfg.Control.Signals {
		sigSource := command.NewSignalSource(server.Submit)
		sigSource.Start()
		defer sigSource.Stop()
	}

	if cfg.Control.Stdin {
		lineSource := command.NewLineSource(os.Stdin, server.Submit)
		lineSource.Start()
	}

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
	}

	if runErr != nil {
		slog.Error("service error", "error", runErr)
	}

	// Graceful shutdown
	shutdownTimeout := server.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	if runErr != nil {
		os.Exit(1)
	}

	slog.Info("survcafe service stopped successfully")
}
