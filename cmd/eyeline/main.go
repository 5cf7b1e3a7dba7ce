package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"eyeline/internal/cli"
	"eyeline/internal/config"
	"eyeline/internal/detect"
	"eyeline/internal/logging"
	"eyeline/internal/pipeline"
	"eyeline/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer closer.Close()

	var store *storage.Store
	if dsn, err := cfg.DatabaseDSN(); err != nil {
		logger.Warn("database path unusable, running without cache", "error", err)
	} else if store, err = storage.New(dsn); err != nil {
		logger.Warn("database unavailable, running without cache or job history", "error", err)
	} else {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector, detectorCloser, err := cli.NewDetector(cfg)
	if err != nil {
		return err
	}
	defer detectorCloser.Close()

	bars := cli.NewProgressBars(os.Stderr)
	stab, err := cli.NewStabilizer(cfg, logger, store, detector)
	if err != nil {
		return err
	}
	stab.OnProgress = bars.Handle

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, cfg.Processing.QueueSize, logger, store,
		pipeline.NewRouter(logger, stab, cli.StabilizeOptions(cfg)))
	defer pipe.Stop()

	// The gRPC gateway fronts the REST service; with transport=grpc the
	// detector already points at a gateway.
	var gateway detect.Client
	if cfg.Detection.Transport == "http" {
		gateway = detector
	}

	return cli.NewRootCmd(cfg, logger, store, pipe, gateway, bars).ExecuteContext(ctx)
}
