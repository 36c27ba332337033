package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/irlwork/settlement/internal/config"
	"github.com/irlwork/settlement/internal/container"
	"github.com/irlwork/settlement/pkg/utils"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "settlement",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting settlement service",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Float64("platform_fee_percent", cfg.Payments.PlatformFeePercent),
		zap.Duration("clearing_window", cfg.Payments.ClearingWindow))

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}

	runErr := c.Run(ctx)
	if runErr != nil {
		logger.Error("Service stopped with error", zap.Error(runErr))
	}

	if err := c.Close(); err != nil {
		logger.Error("Failed to close container", zap.Error(err))
	}

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("Server exited")
}
