package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ranjbar-amirabbas/PYTS/internal/api"
	"github.com/ranjbar-amirabbas/PYTS/internal/audio"
	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
	"github.com/ranjbar-amirabbas/PYTS/internal/backend/stub"
	"github.com/ranjbar-amirabbas/PYTS/internal/backend/whispercli"
	"github.com/ranjbar-amirabbas/PYTS/internal/config"
	"github.com/ranjbar-amirabbas/PYTS/internal/engine"
	"github.com/ranjbar-amirabbas/PYTS/internal/model"
	"github.com/ranjbar-amirabbas/PYTS/internal/store"
)

// drainTimeout bounds how long in-flight jobs may run after a shutdown signal.
const drainTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("pyts: starting",
		"listen_addr", cfg.ListenAddr,
		"engine", cfg.Engine,
		"max_workers", cfg.MaxWorkers,
		"max_queue_size", cfg.MaxQueueSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := backend.NewRegistry()
	reg.Register(config.EngineStub, stub.New(logger, stub.Options{}))
	reg.Register(config.EngineWhisperCLI, whispercli.New(whispercli.Config{
		FFmpegPath:  cfg.Whisper.FFmpeg,
		WhisperPath: cfg.Whisper.Binary,
		ModelPath:   cfg.Whisper.Model,
		Language:    cfg.Whisper.Language,
		Threads:     cfg.Whisper.Threads,
		TempDir:     cfg.UploadDir,
	}, logger))
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("failed to close engines", "error", err)
		}
	}()

	eng, err := reg.Resolve(cfg.Engine)
	if err != nil {
		logger.Error("failed to resolve engine", "engine", cfg.Engine, "error", err)
		os.Exit(1)
	}
	if info := eng.Info(); !info.Ready {
		logger.Warn("engine is not ready; jobs will fail until it is", "engine", cfg.Engine, "model", info.Model)
	}

	if cfg.UploadDir != "" {
		if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
			logger.Error("failed to create upload directory", "dir", cfg.UploadDir, "error", err)
			os.Exit(1)
		}
	}
	ap := audio.NewProcessor(cfg.UploadDir, logger)

	mgr := engine.NewManager(store.NewMemoryStore(), eng, engine.Config{
		MaxWorkers:   cfg.MaxWorkers,
		MaxQueueSize: cfg.MaxQueueSize,
	}, logger)
	mgr.OnFinish(func(j *model.Job) { ap.Remove(j.InputRef) })
	mgr.Start()

	srv := api.NewServer(cfg.ListenAddr, mgr, reg, ap, api.Options{
		Engine:        cfg.Engine,
		MaxFileSize:   cfg.MaxFileSizeBytes(),
		MinChunkSize:  cfg.Stream.MinChunkSize,
		MaxBufferSize: cfg.Stream.MaxBufferSize,
	}, logger)
	sweeper := engine.NewSweeper(mgr, cfg.CleanupInterval, cfg.JobMaxAge, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := mgr.Shutdown(drainCtx); err != nil {
		logger.Warn("job drain incomplete", "error", err)
	}

	if runErr != nil {
		logger.Error("pyts: exited with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("pyts: stopped")
}
