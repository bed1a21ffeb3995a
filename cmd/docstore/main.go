package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/docstore/internal/config"
	"github.com/syntrixbase/docstore/internal/logging"
	"github.com/syntrixbase/docstore/internal/services"
)

const initTimeout = 30 * time.Second

func main() {
	configDir := flag.String("config", "configs", "Directory holding config.yml and config.local.yml")
	flag.Parse()

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "docstore: %v\n", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return err
	}
	defer func() {
		if err := logging.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "docstore: failed to flush logs: %v\n", err)
		}
	}()

	slog.Info("Starting docstore", "config", configDir, "data_dir", cfg.DataDir,
		"storage", cfg.Storage.Backend, "events", cfg.Events.Backend, "node", cfg.Tasks.NodeID)

	mgr := services.NewManager(cfg, slog.Default())

	initCtx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := mgr.Init(initCtx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case serveErr = <-mgr.Errors():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}
