package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/pilievwm/ccimageupload/common/errors"
	"github.com/pilievwm/ccimageupload/common/logger"
	"github.com/pilievwm/ccimageupload/middleware"
	"github.com/pilievwm/ccimageupload/models"
	"github.com/pilievwm/ccimageupload/repository"
	"github.com/pilievwm/ccimageupload/services"
	"go.uber.org/zap"
)

const (
	// MaxUploadBytes caps the multipart body of an upload.
	MaxUploadBytes = 50 << 20

	defaultListLimit = 100
	maxListLimit     = 1000
)

// JobServiceAPI is the intake/status surface the controller drives.
type JobServiceAPI interface {
	Submit(ctx context.Context, filename, submittedBy string, r io.Reader) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, limit int) ([]*models.Job, error)
	Cancel(ctx context.Context, id string) (*models.Job, error)
}

// JobController handles HTTP requests for sync jobs
type JobController struct {
	service JobServiceAPI
	logger  *zap.Logger
}

// NewJobController creates a new JobController
func NewJobController(service JobServiceAPI, logger *zap.Logger) *JobController {
	return &JobController{service: service, logger: logger}
}

// Upload accepts a SKU file and queues a sync job
// POST /api/uploads
func (jc *JobController) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(apperrors.ErrTooLarge.Wrap(err))
			return
		}
		_ = c.Error(apperrors.New(http.StatusBadRequest, "Missing file field", err))
		return
	}

	f, err := fh.Open()
	if err != nil {
		_ = c.Error(apperrors.ErrBadRequest.Wrap(err))
		return
	}
	defer f.Close()

	operator, _ := middleware.GetOperator(c)
	job, err := jc.service.Submit(c.Request.Context(), fh.Filename, operator, f)
	if err != nil {
		_ = c.Error(toAppError(err))
		return
	}

	logger.WithRequestID(c, jc.logger).Info("Sync job accepted",
		zap.String("job_id", job.ID),
		zap.String("filename", job.Filename),
		zap.Int64("size", fh.Size),
		zap.String("submitted_by", operator),
	)
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

// GetJob returns one job with its summary
// GET /api/jobs/:id
func (jc *JobController) GetJob(c *gin.Context) {
	job, err := jc.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns recent jobs, newest first
// GET /api/jobs?limit=
func (jc *JobController) ListJobs(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			_ = c.Error(apperrors.New(http.StatusBadRequest, "limit must be a positive integer", err))
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := jc.service.List(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(toAppError(err))
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// Status reports "in progress" or "completed" as plain text
// GET /api/status?job_id=
func (jc *JobController) Status(c *gin.Context) {
	id := c.Query("job_id")
	if id == "" {
		_ = c.Error(apperrors.New(http.StatusBadRequest, "job_id is required", nil))
		return
	}
	job, err := jc.service.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(toAppError(err))
		return
	}
	c.String(http.StatusOK, job.ProgressText())
}

// CancelJob requests cancellation of a queued or running job
// DELETE /api/jobs/:id
func (jc *JobController) CancelJob(c *gin.Context) {
	job, err := jc.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(toAppError(err))
		return
	}
	logger.WithRequestID(c, jc.logger).Info("Sync job cancel requested",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
	)
	c.JSON(http.StatusAccepted, job)
}

// Health reports liveness
// GET /health
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func toAppError(err error) *apperrors.Error {
	var svcErr *services.ServiceError
	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		return apperrors.ErrNotFound.WithMessage("Job not found", err)
	case errors.Is(err, services.ErrJobNotCancellable):
		return apperrors.ErrConflict.WithMessage("Job already finished", err)
	case errors.As(err, &svcErr):
		return apperrors.New(svcErr.StatusCode, svcErr.Message, err)
	default:
		return apperrors.From(err)
	}
}
