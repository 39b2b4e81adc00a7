package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ranjbar-amirabbas/PYTS/internal/backend"
	"github.com/ranjbar-amirabbas/PYTS/internal/model"
	"github.com/ranjbar-amirabbas/PYTS/internal/store"
)

var (
	// ErrCapacityExceeded is returned when the job queue is full.
	ErrCapacityExceeded = errors.New("job queue is at capacity")

	// ErrShuttingDown is returned when a job is submitted after Shutdown.
	ErrShuttingDown = errors.New("job manager is shutting down")
)

// Config holds the scheduler limits.
type Config struct {
	MaxWorkers   int
	MaxQueueSize int
}

// Manager owns the batch job lifecycle: admission, FIFO dispatch to a fixed
// worker pool, status bookkeeping and cleanup. It is the only writer of job
// records in the store.
type Manager struct {
	store     store.Store
	engine    backend.Engine
	admission *Admission
	broker    *StatusBroker
	logger    *slog.Logger
	cfg       Config

	// queue carries admitted job IDs. Its capacity equals MaxQueueSize and
	// every buffered ID is counted as queued, so sends never block.
	queue chan string

	mu       sync.RWMutex
	closed   bool
	started  bool
	wg       sync.WaitGroup
	onFinish func(*model.Job)
}

// NewManager creates a job manager. Workers are not running until Start.
func NewManager(s store.Store, eng backend.Engine, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.MaxQueueSize < 1 {
		cfg.MaxQueueSize = 1
	}
	return &Manager{
		store:     s,
		engine:    eng,
		admission: NewAdmission(cfg.MaxWorkers, cfg.MaxQueueSize),
		broker:    NewStatusBroker(),
		logger:    logger.With("component", "job_manager"),
		cfg:       cfg,
		queue:     make(chan string, cfg.MaxQueueSize),
	}
}

// OnFinish registers a callback run after each job reaches a terminal status.
// It must be called before Start.
func (m *Manager) OnFinish(fn func(*model.Job)) {
	m.onFinish = fn
}

// Broker returns the manager's status broker for SSE subscription.
func (m *Manager) Broker() *StatusBroker {
	return m.broker
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	for i := 0; i < m.cfg.MaxWorkers; i++ {
		m.wg.Go(func() {
			for id := range m.queue {
				m.process(id)
			}
		})
	}
	m.logger.Info("worker pool started", "max_workers", m.cfg.MaxWorkers, "max_queue_size", m.cfg.MaxQueueSize)
}

// CreateAndSubmit admits a job for inputRef and enqueues it. When the queue
// is full it returns ErrCapacityExceeded and no job is created.
func (m *Manager) CreateAndSubmit(ctx context.Context, inputRef string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrShuttingDown
	}
	if !m.admission.TryAdmit() {
		jobsSubmittedTotal.WithLabelValues(submitRejected).Inc()
		return "", ErrCapacityExceeded
	}

	job := &model.Job{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		InputRef:  inputRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		m.admission.Withdraw()
		return "", fmt.Errorf("create job: %w", err)
	}

	m.queue <- job.ID
	jobsSubmittedTotal.WithLabelValues(submitAccepted).Inc()
	m.logger.Info("job submitted", "job_id", job.ID)
	return job.ID, nil
}

// GetJob returns a snapshot of the job. It never waits on engine work.
func (m *Manager) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return m.store.GetJob(ctx, id)
}

// ListJobs returns a page of jobs, newest first, and the total count.
func (m *Manager) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	return m.store.ListJobs(ctx, limit, offset)
}

// Stats returns aggregate job counts.
func (m *Manager) Stats(ctx context.Context) (*store.JobStats, error) {
	return m.store.GetJobStats(ctx)
}

// Capacity returns the current load snapshot.
func (m *Manager) Capacity() Capacity {
	return m.admission.Snapshot()
}

// Cleanup removes finished jobs whose completion is older than maxAge and
// returns how many were removed. Pending and processing jobs are never removed.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	removed, err := m.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	if len(removed) > 0 {
		m.broker.Forget(removed...)
		jobsCleanedTotal.Add(float64(len(removed)))
	}
	return len(removed), nil
}

// Shutdown stops accepting jobs and waits for the workers to drain the
// queue. It returns ctx.Err() if ctx ends first; workers keep running in
// that case.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs one job: pending → processing → completed/failed.
func (m *Manager) process(id string) {
	m.admission.Start()
	defer m.admission.Release()
	defer m.broker.Close(id)

	ctx := context.Background()
	logger := m.logger.With("job_id", id)

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		logger.Error("dequeued job is missing", "error", err)
		return
	}

	if err := m.store.MarkProcessing(ctx, id); err != nil {
		logger.Error("failed to transition to processing", "error", err)
		return
	}
	m.publish(id, model.StatusProcessing, "")

	start := time.Now()
	text, err := m.transcribe(ctx, job.InputRef)
	jobDuration.Observe(time.Since(start).Seconds())

	// An empty transcript, as for silent audio, is still a successful result.
	status := model.StatusCompleted
	var errMsg string
	if err != nil {
		status = model.StatusFailed
		errMsg = err.Error()
		if errMsg == "" {
			errMsg = "transcription failed"
		}
	}

	if err := m.store.Finish(ctx, id, text, errMsg); err != nil {
		logger.Error("failed to record job result", "error", err)
		return
	}
	jobsFinishedTotal.WithLabelValues(status).Inc()
	m.publish(id, status, errMsg)

	if status == model.StatusFailed {
		logger.Warn("job failed", "error", errMsg, "duration_ms", time.Since(start).Milliseconds())
	} else {
		logger.Info("job completed", "duration_ms", time.Since(start).Milliseconds(), "chars", len(text))
	}

	if m.onFinish != nil {
		job.Status = status
		m.onFinish(job)
	}
}

// transcribe calls the engine, converting a panic into an error so a worker
// never dies.
func (m *Manager) transcribe(ctx context.Context, inputRef string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return m.engine.TranscribeFile(ctx, inputRef)
}

func (m *Manager) publish(id, status, errMsg string) {
	m.broker.Publish(StatusEvent{
		JobID:     id,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	})
}
