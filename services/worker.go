package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pilievwm/ccimageupload/queue"

	"go.uber.org/zap"
)

// JobRunner runs one queued job to completion.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// WorkerPool runs a fixed number of queue consumers, each handling one job
// at a time.
type WorkerPool struct {
	queue  queue.JobQueue
	runner JobRunner
	size   int
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool of size workers.
func NewWorkerPool(q queue.JobQueue, runner JobRunner, size int, logger *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{queue: q, runner: runner, size: size, logger: logger}
}

// Start launches the workers. They stop when ctx is cancelled; use Wait to
// block until in-flight jobs have returned.
func (w *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < w.size; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			log := w.logger.With(zap.Int("worker", id))
			log.Info("Image sync worker started")
			err := w.queue.Consume(ctx, func(ctx context.Context, jobID string) error {
				return w.runJob(ctx, jobID, log)
			})
			log.Info("Image sync worker stopping", zap.Error(err))
		}(i)
	}
}

// Wait blocks until every worker has exited.
func (w *WorkerPool) Wait() {
	w.wg.Wait()
}

func (w *WorkerPool) runJob(ctx context.Context, jobID string, log *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", zap.String("job_id", jobID), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("job %s panicked: %v", jobID, r)
		}
	}()

	if err := w.runner.Run(ctx, jobID); err != nil {
		if errors.Is(err, ErrJobLeased) {
			log.Info("Job delivery deferred", zap.String("job_id", jobID), zap.Error(err))
			return err
		}
		log.Error("Job run failed", zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	return nil
}
