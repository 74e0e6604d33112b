package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"indicator-systemv1/config"
	"indicator-systemv1/internal/logger"
	"indicator-systemv1/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger.Init(cfg.Service, logger.ParseLevel(cfg.LogLevel))
	log := slog.Default()
	log.Info("starting",
		"feed", cfg.FeedURL,
		"symbols", cfg.Symbols,
		"timeframes", cfg.EnabledTFs,
		"indicators", cfg.Indicators)

	svc, err := service.New(cfg, log)
	if err != nil {
		log.Error("init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}
