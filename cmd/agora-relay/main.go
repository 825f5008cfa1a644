// ABOUTME: Entry point for the agora-relay discussion server
// ABOUTME: Loads env/config, sets up logging, runs the relay until signalled

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/2389/agora-relay/internal/config"
	"github.com/2389/agora-relay/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional; env vars suffice)")
	flag.Parse()

	// A missing .env is fine; deployments usually set real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := relay.NewServer(ctx, cfg, logger)
	if err := srv.Run(); err != nil {
		logger.Error("relay exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("relay shut down successfully")
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
