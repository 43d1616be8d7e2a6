package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TrafficLens/internal/config"
	"TrafficLens/internal/logging"
	"TrafficLens/internal/monitor"

	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	envFile := flag.String("env", "", "Optional .env file with credentials")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnv(*envFile); err != nil {
			log.Fatalf("Failed to load env file: %v", err)
		}
	} else {
		_ = config.LoadEnv()
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := monitor.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build monitor", zap.Error(err))
	}

	errc, err := m.Start(ctx)
	if err != nil {
		logger.Error("Failed to start capture", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err, ok := <-errc:
		if ok {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.Shutdown(shutdownCtx)
	logger.Info("Shutdown complete")
}
