package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ranjbar-amirabbas/PYTS/internal/model"
)

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with a mutex-guarded map.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewMemoryStore creates an empty job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.Job),
	}
}

// CreateJob inserts a new job record.
func (s *MemoryStore) CreateJob(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("create job %s: %w", j.ID, ErrDuplicateID)
	}
	s.jobs[j.ID] = cloneJob(j)
	return nil
}

// GetJob retrieves a job by ID.
func (s *MemoryStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

// ListJobs returns a page of jobs ordered by created_at DESC, along with the
// total count of all jobs.
func (s *MemoryStore) ListJobs(_ context.Context, limit, offset int) ([]*model.Job, int, error) {
	s.mu.RLock()
	all := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, cloneJob(j))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, k int) bool {
		if all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return all[i].ID > all[k].ID
		}
		return all[i].CreatedAt.After(all[k].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*model.Job{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// MarkProcessing moves a pending job to processing.
func (s *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !model.ValidTransition(j.Status, model.StatusProcessing) {
		return fmt.Errorf("%s -> %s: %w", j.Status, model.StatusProcessing, ErrInvalidTransition)
	}
	now := time.Now().UTC()
	j.Status = model.StatusProcessing
	j.StartedAt = &now
	return nil
}

// Finish records the outcome of a processing job.
func (s *MemoryStore) Finish(_ context.Context, id, result, errMsg string) error {
	target := model.StatusCompleted
	if errMsg != "" {
		target = model.StatusFailed
		result = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !model.ValidTransition(j.Status, target) {
		return fmt.Errorf("%s -> %s: %w", j.Status, target, ErrInvalidTransition)
	}
	now := time.Now().UTC()
	j.Status = target
	j.Result = result
	j.Error = errMsg
	j.CompletedAt = &now
	return nil
}

// DeleteFinishedBefore removes terminal jobs completed before cutoff.
// Non-terminal jobs are never removed.
func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, j := range s.jobs {
		if !model.IsTerminal(j.Status) || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// GetJobStats returns counts by status and the average processing time of
// terminal jobs.
func (s *MemoryStore) GetJobStats(_ context.Context) (*JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &JobStats{
		Total:         len(s.jobs),
		CountByStatus: make(map[string]int),
	}

	var totalMS float64
	var finished int
	for _, j := range s.jobs {
		stats.CountByStatus[j.Status]++
		if j.StartedAt != nil && j.CompletedAt != nil {
			totalMS += float64(j.CompletedAt.Sub(*j.StartedAt).Milliseconds())
			finished++
		}
	}
	if finished > 0 {
		stats.AvgDurationMS = totalMS / float64(finished)
	}
	return stats, nil
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
