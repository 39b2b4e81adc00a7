package engine

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts finished jobs older than MaxAge.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(m *Manager, interval, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		manager:  m,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With("component", "cleanup_sweeper"),
	}
}

// Run sweeps until ctx is cancelled. It always returns nil so it can be run
// directly in an errgroup.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("cleanup sweeper started", "interval", s.interval.String(), "max_age", s.maxAge.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.manager.Cleanup(ctx, s.maxAge)
	if err != nil {
		s.logger.Error("cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("cleaned up finished jobs", "removed", removed)
	}
}
