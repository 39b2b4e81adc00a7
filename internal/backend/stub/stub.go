// Package stub provides a deterministic transcription engine for tests and
// local development. It never invokes a real model.
package stub

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
)

// Options configures a stub engine.
type Options struct {
	// Delay is slept before every transcription. The sleep is cut short
	// if the context is cancelled.
	Delay time.Duration

	// Fail, when set, is consulted before each call. A non-nil error is
	// returned instead of a transcript.
	Fail func(input string) error
}

// Engine produces placeholder transcripts describing its input.
type Engine struct {
	log   *slog.Logger
	opts  Options
	calls atomic.Int64
}

// Compile-time interface satisfaction check.
var _ backend.Engine = (*Engine)(nil)

// New returns a stub engine.
func New(logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		log:  logger.With("component", "engine.stub"),
		opts: opts,
	}
}

// TranscribeFile implements backend.Engine.
func (e *Engine) TranscribeFile(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat audio: %w", err)
	}
	if err := e.prepare(ctx, path); err != nil {
		return "", err
	}
	e.log.Debug("stub file transcript", "path", path, "bytes", info.Size())
	return fmt.Sprintf("[stub] transcribed %d bytes", info.Size()), nil
}

// TranscribeChunk implements backend.Engine.
func (e *Engine) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	if err := e.prepare(ctx, string(audio)); err != nil {
		return "", err
	}
	e.log.Debug("stub chunk transcript", "bytes", len(audio))
	return fmt.Sprintf("[stub] chunk of %d bytes", len(audio)), nil
}

// Calls returns how many transcriptions have been requested.
func (e *Engine) Calls() int64 {
	return e.calls.Load()
}

// Info implements backend.Engine.
func (e *Engine) Info() backend.EngineInfo {
	return backend.EngineInfo{Name: "stub", Model: "stub", Ready: true}
}

// Close implements backend.Engine.
func (e *Engine) Close() error {
	return nil
}

func (e *Engine) prepare(ctx context.Context, input string) error {
	e.calls.Add(1)
	if e.opts.Delay > 0 {
		timer := time.NewTimer(e.opts.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.opts.Fail != nil {
		if err := e.opts.Fail(input); err != nil {
			return err
		}
	}
	return nil
}
