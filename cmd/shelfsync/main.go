package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dwaller/shelfsync/internal/config"
	"github.com/dwaller/shelfsync/internal/destcat"
	"github.com/dwaller/shelfsync/internal/domain"
	"github.com/dwaller/shelfsync/internal/logger"
	"github.com/dwaller/shelfsync/internal/remotestore"
	"github.com/dwaller/shelfsync/internal/sourcecat"
	"github.com/dwaller/shelfsync/internal/syncer"
)

func main() {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	source, err := sourcecat.Open(cfg.LibraryPath, appLogger)
	if err != nil {
		appLogger.Error("Failed to open source catalog", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	remote := remotestore.New(cfg.ServerURL, cfg.Username, cfg.Password, appLogger)

	s := syncer.New(remote, source, func(dbPath string) (syncer.Destination, error) {
		return destcat.Open(dbPath, cfg.StripHTML, appLogger)
	}, appLogger)
	s.DownloadDir = cfg.DownloadDir
	s.Progress = func(ev domain.ProgressEvent) {
		switch ev.Type {
		case domain.EventProgress:
			appLogger.Info(ev.Phase, "count", ev.Count, "total", ev.Total)
		case domain.EventNoServer:
			appLogger.Error("Could not connect to the content server. Did you start it?")
		case domain.EventDone:
			appLogger.Info("Sync complete. Clear the device's cover cache to pick up new covers.")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		appLogger.Info("Interrupt received, finishing current book")
		cancel()
	}()

	if err := s.Run(ctx); err != nil {
		appLogger.Error("Sync failed", "error", err)
		os.Exit(1)
	}
}
