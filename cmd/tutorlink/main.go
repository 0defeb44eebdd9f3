package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tutorlink/internal/app"
	"tutorlink/internal/config"
	"tutorlink/internal/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run loads configuration (defaults < .env and environment < file) and
// serves until SIGINT or SIGTERM.
func run() error {
	if err := config.LoadDotEnv(os.Getenv("TUTORLINK_DOTENV")); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.LoadConfigWithPrecedence(os.Getenv("TUTORLINK_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting tutorlink", zap.String("env", cfg.Env), zap.String("addr", application.Addr()))
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	return nil
}
