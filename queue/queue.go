package queue

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Handler runs one job. A returned error is logged by the queue; whether the
// job id is redelivered depends on the backend.
type Handler func(ctx context.Context, jobID string) error

// JobQueue carries job ids from intake to workers.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Consume pulls job ids one at a time and calls handler for each until
	// ctx is cancelled. Several goroutines may Consume the same queue.
	Consume(ctx context.Context, handler Handler) error
}

// ErrQueueFull is returned by a bounded in-memory queue at capacity.
var ErrQueueFull = errors.New("job queue is full")

// MemoryQueue is a buffered channel queue for single-process deployments.
// Failed jobs are logged and not redelivered.
type MemoryQueue struct {
	ch     chan string
	logger *zap.Logger
}

// NewMemoryQueue creates a queue holding up to capacity pending jobs.
func NewMemoryQueue(capacity int, logger *zap.Logger) *MemoryQueue {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{ch: make(chan string, capacity), logger: logger}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-q.ch:
			if err := handler(ctx, id); err != nil {
				q.logger.Error("Job handler failed", zap.String("job_id", id), zap.Error(err))
			}
		}
	}
}

// Len reports the number of pending job ids.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
