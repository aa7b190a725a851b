package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisQueueKey is the list job ids are pushed to.
const DefaultRedisQueueKey = "imagesync:queue"

// RedisQueue is a FIFO list consumed with BLPOP. A job id popped by a worker
// that then crashes is lost; the job stays queued in the registry.
type RedisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
	logger      *zap.Logger
}

// NewRedisQueue creates a new RedisQueue on key.
func NewRedisQueue(client *redis.Client, key string, logger *zap.Logger) *RedisQueue {
	if key == "" {
		key = DefaultRedisQueueKey
	}
	return &RedisQueue{client: client, key: key, pollTimeout: 5 * time.Second, logger: logger}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	q.logger.Info("Redis queue consumer started", zap.String("queue", q.key))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// A finite timeout keeps the loop responsive to ctx on clients
		// that do not interrupt blocking commands.
		res, err := q.client.BLPop(ctx, q.pollTimeout, q.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("Redis BLPop failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		if err := handler(ctx, res[1]); err != nil {
			q.logger.Error("Job handler failed", zap.String("job_id", res[1]), zap.Error(err))
		}
	}
}
