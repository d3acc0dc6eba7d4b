package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-signal-engine-go/internal/api"
	"market-signal-engine-go/internal/app"
	"market-signal-engine-go/internal/config"
	"market-signal-engine-go/internal/logger"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	flags := pflag.NewFlagSet("scanner", pflag.ExitOnError)
	configDir := flags.String("config-dir", "./configs", "directory containing config.yml")
	flags.Int("server.port", 8080, "HTTP API port")
	flags.String("logger.level", "info", "log level (debug, info, warn, error)")
	_ = flags.Parse(os.Args[1:])

	// Load application configuration
	cfg, err := config.LoadConfig(*configDir, flags)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.Int("providers", len(cfg.Providers)), zap.Int("keys", len(cfg.Keys)))

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize signal engine", zap.Error(err))
	}
	if err := engine.Start(ctx); err != nil {
		log.Fatal("Failed to start scanner", zap.Error(err))
	}

	handler := api.NewHandler(engine.Scanner, engine.Backtest, engine.Pool, log)
	server := api.NewAPIServer(handler, cfg.Server.Port, engine.Registry, log)
	server.Start()

	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	if err := engine.Close(shutdownCtx); err != nil {
		log.Error("Failed to persist state on shutdown", zap.Error(err))
	}
	log.Info("Scanner has been shut down.")
}
