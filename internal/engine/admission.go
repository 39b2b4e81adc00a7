package engine

import "sync"

// Capacity is a point-in-time view of the scheduler's load.
type Capacity struct {
	ActiveJobs        int  `json:"active_jobs"`
	QueuedJobs        int  `json:"queued_jobs"`
	MaxWorkers        int  `json:"max_workers"`
	MaxQueueSize      int  `json:"max_queue_size"`
	AvailableCapacity int  `json:"available_capacity"`
	AtCapacity        bool `json:"at_capacity"`
}

// Admission tracks how many jobs are queued and running. It is the only gate
// for new batch work: a job is admitted iff fewer than maxQueue jobs are
// waiting. Running jobs do not count against the queue limit.
type Admission struct {
	mu         sync.Mutex
	maxWorkers int
	maxQueue   int
	active     int
	queued     int
}

// NewAdmission returns an admission controller for the given limits.
func NewAdmission(maxWorkers, maxQueue int) *Admission {
	return &Admission{maxWorkers: maxWorkers, maxQueue: maxQueue}
}

// TryAdmit reserves a queue slot. It never blocks.
func (a *Admission) TryAdmit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.queued >= a.maxQueue {
		return false
	}
	a.queued++
	jobsQueued.Set(float64(a.queued))
	return true
}

// Withdraw returns a queue slot for a job that was admitted but never enqueued.
func (a *Admission) Withdraw() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.queued > 0 {
		a.queued--
	}
	jobsQueued.Set(float64(a.queued))
}

// Start moves one job from queued to active. Called by a worker after dequeuing.
func (a *Admission) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.queued > 0 {
		a.queued--
	}
	a.active++
	jobsQueued.Set(float64(a.queued))
	jobsActive.Set(float64(a.active))
}

// Release marks one active job as finished, whatever its outcome.
func (a *Admission) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active > 0 {
		a.active--
	}
	jobsActive.Set(float64(a.active))
}

// Snapshot returns the current counters and limits.
func (a *Admission) Snapshot() Capacity {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Capacity{
		ActiveJobs:        a.active,
		QueuedJobs:        a.queued,
		MaxWorkers:        a.maxWorkers,
		MaxQueueSize:      a.maxQueue,
		AvailableCapacity: a.maxQueue - a.queued,
		AtCapacity:        a.queued >= a.maxQueue,
	}
}
