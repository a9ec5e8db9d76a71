package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/meszmate/gateway/internal/app"
	"github.com/meszmate/gateway/internal/config"
	"github.com/meszmate/gateway/internal/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logging, honoring GATEWAY_DEBUG / GATEWAY_LOGFILE
	logCfg := logging.FromEnv(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()

	// Initialize application
	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer application.Close()

	application.AutoConnect()

	// Wait for shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
}
