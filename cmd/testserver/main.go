// testserver starts a PYTS API server with the stub engine for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ranjbar-amirabbas/PYTS/internal/api"
	"github.com/ranjbar-amirabbas/PYTS/internal/audio"
	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
	"github.com/ranjbar-amirabbas/PYTS/internal/backend/stub"
	"github.com/ranjbar-amirabbas/PYTS/internal/engine"
	"github.com/ranjbar-amirabbas/PYTS/internal/model"
	"github.com/ranjbar-amirabbas/PYTS/internal/store"
)

func main() {
	addr := ":8000"
	if v := os.Getenv("PYTS_LISTEN_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	eng := stub.New(logger, stub.Options{Delay: 500 * time.Millisecond})
	reg := backend.NewRegistry()
	reg.Register("stub", eng)

	uploadDir, err := os.MkdirTemp("", "pyts-testserver-*")
	if err != nil {
		log.Fatalf("failed to create upload dir: %v", err)
	}
	defer os.RemoveAll(uploadDir)
	ap := audio.NewProcessor(uploadDir, logger)

	mgr := engine.NewManager(store.NewMemoryStore(), eng, engine.Config{
		MaxWorkers:   2,
		MaxQueueSize: 2,
	}, logger)
	mgr.OnFinish(func(j *model.Job) { ap.Remove(j.InputRef) })
	mgr.Start()

	srv := api.NewServer(addr, mgr, reg, ap, api.Options{
		Engine:        "stub",
		MaxFileSize:   10 << 20,
		MinChunkSize:  100 * 1024,
		MaxBufferSize: 10 << 20,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	_ = mgr.Shutdown(context.Background())
}
