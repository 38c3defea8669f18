// Package memory holds the in-process trigger queue used when no Redis is
// configured.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"drapo/pkg/models"
	"drapo/pkg/storage"
)

type envelope struct {
	id      string
	trigger *models.Trigger
}

// Queue is a buffered FIFO. Popped triggers stay pending until acked.
type Queue struct {
	ch      chan envelope
	block   time.Duration
	mu      sync.Mutex
	seq     uint64
	pending map[string]*models.Trigger
	closed  bool
	done    chan struct{}
}

// NewQueue creates a queue holding up to size unconsumed triggers. Pop
// waits at most block before returning empty-handed.
func NewQueue(size int, block time.Duration) *Queue {
	if size <= 0 {
		size = 64
	}
	if block <= 0 {
		block = 2 * time.Second
	}
	return &Queue{
		ch:      make(chan envelope, size),
		block:   block,
		pending: make(map[string]*models.Trigger),
		done:    make(chan struct{}),
	}
}

func (q *Queue) Push(ctx context.Context, trigger *models.Trigger) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return storage.ErrQueueClosed
	}
	q.seq++
	env := envelope{id: strconv.FormatUint(q.seq, 10), trigger: trigger}
	q.mu.Unlock()

	select {
	case q.ch <- env:
		return nil
	case <-q.done:
		return storage.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Pop(ctx context.Context, group, consumer string) (string, *models.Trigger, error) {
	timer := time.NewTimer(q.block)
	defer timer.Stop()

	select {
	case env := <-q.ch:
		q.mu.Lock()
		q.pending[env.id] = env.trigger
		q.mu.Unlock()
		return env.id, env.trigger, nil
	case <-timer.C:
		return "", nil, nil
	case <-q.done:
		return "", nil, storage.ErrQueueClosed
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (q *Queue) Ack(ctx context.Context, group, msgID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[msgID]; !ok {
		return storage.ErrNotFound
	}
	delete(q.pending, msgID)
	return nil
}

// EnsureGroup is a no-op; there is a single implicit group.
func (q *Queue) EnsureGroup(ctx context.Context, group string) error { return nil }

// Pending returns the number of popped but unacknowledged triggers.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Len returns the number of triggers waiting to be popped.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
