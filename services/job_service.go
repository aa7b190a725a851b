package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pilievwm/ccimageupload/models"
	"github.com/pilievwm/ccimageupload/queue"
	"github.com/pilievwm/ccimageupload/repository"
	"github.com/pilievwm/ccimageupload/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobService accepts input files and exposes job state.
type JobService struct {
	jobs      repository.JobRepository
	artifacts storage.ArtifactStore
	queue     queue.JobQueue
	logger    *zap.Logger
}

// NewJobService creates a new JobService.
func NewJobService(jobs repository.JobRepository, artifacts storage.ArtifactStore, q queue.JobQueue, logger *zap.Logger) *JobService {
	return &JobService{jobs: jobs, artifacts: artifacts, queue: q, logger: logger}
}

// Submit stores the file, registers a queued job and enqueues it. Nothing is
// left behind when any step fails.
func (s *JobService) Submit(ctx context.Context, filename, submittedBy string, r io.Reader) (*models.Job, error) {
	if _, err := FormatFromFilename(filename); err != nil {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "unsupported file type, expected .csv, .txt or .xlsx", Err: err}
	}

	jobID := uuid.New().String()
	key := jobID + strings.ToLower(filepath.Ext(filename))
	log := s.logger.With(zap.String("job_id", jobID))

	if err := s.artifacts.Save(ctx, key, r); err != nil {
		log.Error("Failed to persist upload", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "failed to store file", Err: err}
	}

	job := &models.Job{
		ID:          jobID,
		Filename:    filepath.Base(filename),
		SubmittedBy: submittedBy,
		ArtifactKey: key,
		Status:      models.JobStatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.discardArtifact(ctx, key, log)
		log.Error("Failed to register job", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "failed to register job", Err: err}
	}

	if err := s.queue.Enqueue(ctx, jobID); err != nil {
		s.discardArtifact(ctx, key, log)
		if derr := s.jobs.Delete(context.WithoutCancel(ctx), jobID); derr != nil {
			log.Error("Failed to drop unqueued job", zap.Error(derr))
		}
		log.Error("Failed to enqueue job", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		return nil, &ServiceError{StatusCode: status, Message: "failed to queue job", Err: err}
	}

	log.Info("Image sync job queued", zap.String("filename", job.Filename))
	return job, nil
}

// Get returns one job, or repository.ErrJobNotFound.
func (s *JobService) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.Get(ctx, id)
}

// List returns the newest jobs first.
func (s *JobService) List(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.jobs.List(ctx, limit)
}

// Cancel stops a job. A queued job is cancelled immediately; a running job is
// flagged and stops before its next SKU. Finished jobs return
// ErrJobNotCancellable.
func (s *JobService) Cancel(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.jobs.Update(ctx, id, func(j *models.Job) error {
		switch {
		case j.Status.IsTerminal():
			return ErrJobNotCancellable
		case j.Status == models.JobStatusQueued:
			now := time.Now().UTC()
			j.Status = models.JobStatusCancelled
			j.Error = "cancelled before start"
			j.CompletedAt = &now
		}
		j.CancelRequested = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrJobNotCancellable) && !errors.Is(err, repository.ErrJobNotFound) {
			err = fmt.Errorf("cancel job %s: %w", id, err)
		}
		return nil, err
	}
	s.logger.Info("Job cancel requested", zap.String("job_id", id), zap.String("status", string(job.Status)))
	return job, nil
}

func (s *JobService) discardArtifact(ctx context.Context, key string, log *zap.Logger) {
	if err := s.artifacts.Remove(context.WithoutCancel(ctx), key); err != nil {
		log.Error("Failed to remove orphaned upload", zap.String("artifact_key", key), zap.Error(err))
	}
}
