package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pilievwm/ccimageupload/models"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "imagesync:job:"
	jobIndexKey  = "imagesync:jobs"

	// DefaultJobTTL is how long a job record survives its last update.
	DefaultJobTTL = 24 * time.Hour

	maxUpdateAttempts = 10
	// listPageSize is how many index entries List reads per round trip.
	listPageSize = 100
)

// RedisJobRepository stores each job as a JSON string with a TTL and keeps a
// sorted-set index by creation time for listing.
type RedisJobRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobRepository creates a new RedisJobRepository.
func NewRedisJobRepository(client *redis.Client, ttl time.Duration) *RedisJobRepository {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &RedisJobRepository{client: client, ttl: ttl}
}

func (r *RedisJobRepository) getKey(id string) string {
	return jobKeyPrefix + id
}

func (r *RedisJobRepository) Create(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.getKey(job.ID), data, r.ttl)
		pipe.ZAdd(ctx, jobIndexKey, redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

func (r *RedisJobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	data, err := r.client.Get(ctx, r.getKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(data)
}

func (r *RedisJobRepository) Update(ctx context.Context, id string, mutate func(job *models.Job) error) (*models.Job, error) {
	key := r.getKey(id)
	var updated *models.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		next, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update job %s: too much contention", id)
}

func (r *RedisJobRepository) List(ctx context.Context, limit int) ([]*models.Job, error) {
	page := int64(listPageSize)
	if limit > 0 && int64(limit) > page {
		page = int64(limit)
	}

	jobs := []*models.Job{}
	var expired []interface{}
	// Expired ids are only removed after the scan so the offsets stay valid.
	for start := int64(0); limit <= 0 || len(jobs) < limit; start += page {
		ids, err := r.client.ZRevRange(ctx, jobIndexKey, start, start+page-1).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = r.getKey(id)
		}
		vals, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				expired = append(expired, ids[i])
				continue
			}
			job, err := decodeJob([]byte(s))
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
		if int64(len(ids)) < page {
			break
		}
	}

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	if len(expired) > 0 {
		r.client.ZRem(ctx, jobIndexKey, expired...)
	}
	return jobs, nil
}

func (r *RedisJobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.getKey(id))
		pipe.ZRem(ctx, jobIndexKey, id)
		return nil
	})
	return err
}

func decodeJob(data []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return &job, nil
}
