package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// lease tracks one outstanding claim.
type lease struct {
	jobID     string
	expiresAt time.Time
}

// InMemoryQueue is a process-local JobQueue: a FIFO channel of job ids plus
// a lease table. It satisfies the durable/at-least-once contract within one
// process lifetime; a real deployment backs JobQueue with a durable broker
// (SQS, Redis, Postgres SKIP LOCKED, ...) behind the same port.
type InMemoryQueue struct {
	mu      sync.Mutex
	pending []string
	queued  map[string]struct{} // jobID -> present in pending, dedup for Push
	leases  map[LeaseToken]*lease

	wake chan struct{}
}

// NewInMemoryQueue constructs an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		queued: make(map[string]struct{}),
		leases: make(map[LeaseToken]*lease),
		wake:   make(chan struct{}, 1),
	}
}

func (q *InMemoryQueue) Push(jobID string) error {
	q.mu.Lock()
	if _, ok := q.queued[jobID]; ok {
		q.mu.Unlock()
		return nil
	}
	q.pending = append(q.pending, jobID)
	q.queued[jobID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *InMemoryQueue) popOne() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reapExpiredLocked()

	if len(q.pending) == 0 {
		return "", false
	}
	jobID := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, jobID)
	return jobID, true
}

// reapExpiredLocked re-enqueues jobs whose lease expired without renewal
// (§4.8: "expired leases make the job re-claimable"). Caller holds q.mu.
func (q *InMemoryQueue) reapExpiredLocked() {
	now := time.Now()
	for token, l := range q.leases {
		if now.After(l.expiresAt) {
			delete(q.leases, token)
			if _, alreadyQueued := q.queued[l.jobID]; !alreadyQueued {
				q.pending = append(q.pending, l.jobID)
				q.queued[l.jobID] = struct{}{}
			}
		}
	}
}

func (q *InMemoryQueue) Claim(timeout time.Duration) (string, LeaseToken, error) {
	deadline := time.Now().Add(timeout)
	for {
		if jobID, ok := q.popOne(); ok {
			token := LeaseToken(uuid.NewString())
			q.mu.Lock()
			q.leases[token] = &lease{jobID: jobID, expiresAt: time.Now().Add(60 * time.Second)}
			q.mu.Unlock()
			return jobID, token, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", "", ErrEmpty
		}
		wait := remaining
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		select {
		case <-q.wake:
		case <-time.After(wait):
		}
	}
}

func (q *InMemoryQueue) Renew(token LeaseToken, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.leases[token]
	if !ok {
		return ErrUnknownLease
	}
	l.expiresAt = time.Now().Add(ttl)
	return nil
}

func (q *InMemoryQueue) Release(token LeaseToken, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.leases[token]; !ok {
		return ErrUnknownLease
	}
	delete(q.leases, token)
	return nil
}

var _ JobQueue = (*InMemoryQueue)(nil)
