package engine

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each status subscriber.
// A job emits at most three events, so subscribers never fall behind.
const subscriberBufferSize = 8

// StatusEvent is a job status transition delivered to subscribers.
type StatusEvent struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusBroker fans job status transitions out to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever. Markers are dropped by Forget
// when cleanup evicts the job.
type StatusBroker struct {
	mu     sync.Mutex
	topics map[string]*statusTopic
}

type statusTopic struct {
	subs   map[int]chan StatusEvent
	nextID int
	closed bool
}

// NewStatusBroker creates a new status broker.
func NewStatusBroker() *StatusBroker {
	return &StatusBroker{
		topics: make(map[string]*statusTopic),
	}
}

// Subscribe returns a channel that receives status events for the given job
// and an unsubscribe function. If the job has already finished, the returned
// channel is immediately closed.
func (b *StatusBroker) Subscribe(jobID string) (<-chan StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &statusTopic{subs: make(map[int]chan StatusEvent)}
		b.topics[jobID] = t
	}

	ch := make(chan StatusEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if len(t.subs) == 0 && !t.closed && b.topics[jobID] == t {
			delete(b.topics, jobID)
		}
	}
}

// Publish sends an event to all subscribers of ev.JobID.
// Events are dropped for subscribers whose buffers are full.
func (b *StatusBroker) Publish(ev StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.JobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close signals that no more events will be published for the given job.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *StatusBroker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		b.topics[jobID] = &statusTopic{subs: make(map[int]chan StatusEvent), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops all state for the given jobs.
func (b *StatusBroker) Forget(jobIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range jobIDs {
		t, ok := b.topics[id]
		if !ok {
			continue
		}
		for sid, ch := range t.subs {
			close(ch)
			delete(t.subs, sid)
		}
		delete(b.topics, id)
	}
}

// topicCount returns the number of tracked topics.
func (b *StatusBroker) topicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
