package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mirage/server/internal/app"
	"mirage/server/internal/config"
	"mirage/server/internal/observability"
	"mirage/server/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("MIRAGE_CONFIG"), "path to the YAML configuration")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("load %s: %v", *envPath, err)
	}

	bootstrap, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("zap: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap.Fatal("load config", zap.Error(err))
	}
	cfg = cfg.ApplyEnv(nil, telemetry.WrapZap(bootstrap))
	if cfg, err = cfg.Normalize(telemetry.WrapZap(bootstrap)); err != nil {
		bootstrap.Fatal("normalize config", zap.Error(err))
	}

	logger := newLogger(cfg.Logging.Level)
	defer func() { _ = logger.Sync() }()

	stopProfile := observability.StartProfile(cfg.Observability)
	defer stopProfile()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		stopProfile()
		os.Exit(1)
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("zap: %v", err)
	}
	return logger
}
