// Package store holds batch transcription jobs for the lifetime of the process.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ranjbar-amirabbas/PYTS/internal/model"
)

var (
	// ErrNotFound is returned when a job is not found.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a job status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateID is returned when a job with the same ID already exists.
	ErrDuplicateID = errors.New("duplicate job id")
)

// JobStats holds aggregate job counts.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the operations on the job registry. Implementations must be
// safe for concurrent use and must return copies so callers never observe a
// partially written record.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)

	// MarkProcessing moves a pending job to processing and stamps started_at.
	MarkProcessing(ctx context.Context, id string) error

	// Finish moves a processing job to completed (errMsg empty) or failed
	// and stamps completed_at. Exactly one of result and errMsg is stored.
	Finish(ctx context.Context, id, result, errMsg string) error

	// DeleteFinishedBefore removes terminal jobs whose completed_at is
	// before cutoff and returns their IDs.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	GetJobStats(ctx context.Context) (*JobStats, error)
}
