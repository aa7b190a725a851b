package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pilievwm/ccimageupload/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRepo(t *testing.T) (*RedisJobRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisJobRepository(client, time.Hour), mr
}

func repositories(t *testing.T) map[string]JobRepository {
	redisRepo, _ := newRedisRepo(t)
	return map[string]JobRepository{
		"memory": NewMemoryJobRepository(),
		"redis":  redisRepo,
	}
}

func newJob(id string, created time.Time) *models.Job {
	return &models.Job{ID: id, Filename: id + ".csv", ArtifactKey: id + ".csv", Status: models.JobStatusQueued, CreatedAt: created}
}

func TestJobRepository_CreateGet(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newJob("j1", time.Now().UTC())))

			got, err := repo.Get(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, "j1.csv", got.Filename)
			assert.Equal(t, models.JobStatusQueued, got.Status)

			_, err = repo.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestJobRepository_Update(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newJob("j1", time.Now().UTC())))

			updated, err := repo.Update(ctx, "j1", func(job *models.Job) error {
				job.Status = models.JobStatusRunning
				job.TotalSKUs = 3
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusRunning, updated.Status)

			got, err := repo.Get(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, 3, got.TotalSKUs)

			// a failing mutation writes nothing
			boom := errors.New("boom")
			_, err = repo.Update(ctx, "j1", func(job *models.Job) error {
				job.Status = models.JobStatusFailed
				return boom
			})
			assert.ErrorIs(t, err, boom)
			got, err = repo.Get(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusRunning, got.Status)

			_, err = repo.Update(ctx, "missing", func(job *models.Job) error { return nil })
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestJobRepository_ConcurrentUpdatesAreNotLost(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newJob("j1", time.Now().UTC())))

			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := repo.Update(ctx, "j1", func(job *models.Job) error {
						job.DoneSKUs++
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := repo.Get(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, 5, got.DoneSKUs)
		})
	}
}

func TestJobRepository_ListNewestFirst(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC()
			require.NoError(t, repo.Create(ctx, newJob("old", base.Add(-2*time.Minute))))
			require.NoError(t, repo.Create(ctx, newJob("new", base)))
			require.NoError(t, repo.Create(ctx, newJob("mid", base.Add(-time.Minute))))

			all, err := repo.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

			two, err := repo.List(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, two, 2)

			require.NoError(t, repo.Delete(ctx, "mid"))
			all, err = repo.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestMemoryJobRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("j1", time.Now())))

	got, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	got.Status = models.JobStatusFailed

	again, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, again.Status)
}

func TestRedisJobRepository_TTLAndExpiredIndex(t *testing.T) {
	repo, mr := newRedisRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newJob("j1", time.Now().UTC())))
	require.NoError(t, repo.Create(ctx, newJob("j2", time.Now().UTC().Add(time.Second))))

	assert.Equal(t, time.Hour, mr.TTL(jobKeyPrefix+"j1"))

	mr.FastForward(2 * time.Hour)
	require.NoError(t, repo.Create(ctx, newJob("j3", time.Now().UTC().Add(2*time.Second))))

	jobs, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j3", jobs[0].ID)

	members, err := mr.ZMembers(jobIndexKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"j3"}, members)
}

func TestRedisJobRepository_ListSkipsExpiredBeforeLimit(t *testing.T) {
	repo, mr := newRedisRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newJob(fmt.Sprintf("j%d", i), base.Add(time.Duration(i)*time.Second))))
	}
	// The two newest records expire while their index entries remain.
	mr.Del(jobKeyPrefix + "j4")
	mr.Del(jobKeyPrefix + "j3")

	jobs, err := repo.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "j2", jobs[0].ID)
	assert.Equal(t, "j1", jobs[1].ID)
	assert.Equal(t, "j0", jobs[2].ID)

	members, err := mr.ZMembers(jobIndexKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"j0", "j1", "j2"}, members)
}

func TestRedisJobRepository_ListPagesPastFirstBatch(t *testing.T) {
	repo, mr := newRedisRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()
	total := listPageSize + 5
	for i := 0; i < total; i++ {
		require.NoError(t, repo.Create(ctx, newJob(fmt.Sprintf("j%03d", i), base.Add(time.Duration(i)*time.Millisecond))))
	}
	for i := total - listPageSize; i < total; i++ {
		mr.Del(jobKeyPrefix + fmt.Sprintf("j%03d", i))
	}

	jobs, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j004", jobs[0].ID)
	assert.Equal(t, "j003", jobs[1].ID)

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, total-listPageSize)
}
