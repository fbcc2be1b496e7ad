// Package memory provides a queue implementation for local development and
// tests. It keeps the rank.Queue contract (bounded attempts, retained
// failures) but nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rankwatch/rankwatch/internal/rank"
)

const defaultMaxAttempts = 3

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch          chan rank.Delivery
	maxAttempts int

	mu     sync.Mutex
	dead   []rank.Job
	closed bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:          make(chan rank.Delivery, capacity),
		maxAttempts: defaultMaxAttempts,
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job rank.Job) error {
	return q.push(ctx, rank.Delivery{Job: job, Attempt: 1})
}

// Dequeue pops the next delivery, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (rank.Delivery, error) {
	select {
	case <-ctx.Done():
		return rank.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d, ok := <-q.ch:
		if !ok {
			return rank.Delivery{}, errors.New("queue closed")
		}
		return d, nil
	}
}

// Ack discards a completed delivery.
func (q *Queue) Ack(_ context.Context, _ rank.Delivery) error { return nil }

// Nack requeues the delivery with the next attempt number, or retains it on
// the dead list once attempts are exhausted.
func (q *Queue) Nack(ctx context.Context, d rank.Delivery, _ error) (bool, error) {
	if d.Attempt >= q.maxAttempts {
		q.mu.Lock()
		q.dead = append(q.dead, d.Job)
		q.mu.Unlock()
		return false, nil
	}
	if err := q.push(ctx, rank.Delivery{Job: d.Job, Attempt: d.Attempt + 1}); err != nil {
		return false, err
	}
	return true, nil
}

// DeadJobs returns jobs that exhausted every attempt.
func (q *Queue) DeadJobs() []rank.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]rank.Job, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *Queue) push(ctx context.Context, d rank.Delivery) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- d:
		return nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
