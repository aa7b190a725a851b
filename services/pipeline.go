package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pilievwm/ccimageupload/models"
	awspkg "github.com/pilievwm/ccimageupload/pkg/aws"
	"github.com/pilievwm/ccimageupload/repository"
	"github.com/pilievwm/ccimageupload/storage"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// registryTimeout bounds each job registry write made by the pipeline.
const registryTimeout = 10 * time.Second

// DefaultLeaseTTL is how long a running job's heartbeat stays valid.
const DefaultLeaseTTL = 2 * time.Minute

// SKUSyncer processes one SKU.
type SKUSyncer interface {
	Sync(ctx context.Context, entry models.SKUEntry) models.SKUResult
}

// MetricsRecorder accepts CloudWatch data points.
type MetricsRecorder interface {
	PutMetricBatch(ctx context.Context, metrics []types.MetricDatum) error
}

// PipelineConfig wires a Pipeline. Events and Metrics are optional.
type PipelineConfig struct {
	Jobs        repository.JobRepository
	Artifacts   storage.ArtifactStore
	Reader      *SKUFileReader
	Syncer      SKUSyncer
	Concurrency int
	// LeaseTTL defaults to DefaultLeaseTTL. A running job whose heartbeat
	// is younger than this is not restarted by a redelivery.
	LeaseTTL time.Duration

	Events      awspkg.SNSPublisher
	EventsTopic string
	Metrics     MetricsRecorder

	Logger *zap.Logger
}

// Pipeline runs one job from its stored artifact to a terminal status.
type Pipeline struct {
	jobs        repository.JobRepository
	artifacts   storage.ArtifactStore
	reader      *SKUFileReader
	syncer      SKUSyncer
	concurrency int
	leaseTTL    time.Duration
	events      awspkg.SNSPublisher
	eventsTopic string
	metrics     MetricsRecorder
	logger      *zap.Logger
}

// NewPipeline creates a new Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Reader == nil {
		cfg.Reader = NewSKUFileReader(cfg.Logger)
	}
	return &Pipeline{
		jobs:        cfg.Jobs,
		artifacts:   cfg.Artifacts,
		reader:      cfg.Reader,
		syncer:      cfg.Syncer,
		concurrency: cfg.Concurrency,
		leaseTTL:    cfg.LeaseTTL,
		events:      cfg.Events,
		eventsTopic: cfg.EventsTopic,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

var errSkipJob = errors.New("job not runnable")

// Run processes jobID. Per-SKU failures end up in the job summary; Run only
// returns an error when the job cannot be tracked in the registry at all, or
// ErrJobLeased when another worker is still running it.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	log := p.logger.With(zap.String("job_id", jobID))

	var prior models.JobStatus
	job, err := p.update(ctx, jobID, func(j *models.Job) error {
		prior = j.Status
		if j.Status.IsTerminal() {
			return errSkipJob
		}
		now := time.Now().UTC()
		if j.LeaseHeld(now, p.leaseTTL) {
			return ErrJobLeased
		}
		j.Status = models.JobStatusRunning
		j.StartedAt = &now
		j.HeartbeatAt = &now
		return nil
	})
	if errors.Is(err, ErrJobLeased) {
		log.Info("Job is running on another worker, leaving delivery for retry")
		return fmt.Errorf("job %s: %w", jobID, ErrJobLeased)
	}
	if errors.Is(err, errSkipJob) {
		if prior == models.JobStatusCancelled {
			// Cancelled while queued: the artifact is still ours to remove.
			if j, gerr := p.jobs.Get(ctx, jobID); gerr == nil {
				p.removeArtifact(ctx, j.ArtifactKey, log)
			}
		}
		log.Info("Job already finished, not running", zap.String("status", string(prior)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	if prior == models.JobStatusRunning {
		log.Warn("Job redelivered with a stale lease, restarting")
	}

	log.Info("Job started", zap.String("filename", job.Filename))
	start := time.Now()

	var removeOnce sync.Once
	remove := func() {
		removeOnce.Do(func() { p.removeArtifact(ctx, job.ArtifactKey, log) })
	}
	defer remove()

	stopHeartbeat := p.startHeartbeat(ctx, jobID, log)
	defer stopHeartbeat()

	parsed, err := p.load(ctx, job)
	if err != nil {
		log.Error("Failed to read job artifact", zap.Error(err))
		remove()
		stopHeartbeat()
		return p.finish(ctx, job, models.JobStatusFailed, err.Error(), nil, start, log)
	}

	_, err = p.update(ctx, jobID, func(j *models.Job) error {
		j.TotalSKUs = len(parsed.Entries)
		return nil
	})
	if err != nil {
		log.Warn("Failed to record SKU count", zap.Error(err))
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := p.syncAll(jobCtx, cancel, jobID, parsed.Entries, log)

	summary := &models.JobSummary{TotalRows: parsed.TotalRows, MalformedRows: parsed.MalformedRows}
	for _, r := range results {
		summary.Record(r)
	}

	status, errText := models.JobStatusCompleted, ""
	if summary.Cancelled > 0 {
		status = models.JobStatusCancelled
		errText = "cancelled by request"
		if ctx.Err() != nil {
			errText = "cancelled by shutdown"
		}
	}

	remove()
	stopHeartbeat()
	return p.finish(ctx, job, status, errText, summary, start, log)
}

// startHeartbeat refreshes the job lease every third of the lease TTL until
// the returned stop func is called or ctx is done.
func (p *Pipeline) startHeartbeat(ctx context.Context, jobID string, log *zap.Logger) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.leaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				_, err := p.update(hbCtx, jobID, func(j *models.Job) error {
					now := time.Now().UTC()
					j.HeartbeatAt = &now
					return nil
				})
				if err != nil {
					log.Warn("Failed to refresh job lease", zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (p *Pipeline) load(ctx context.Context, job *models.Job) (*ParsedFile, error) {
	format, err := FormatFromFilename(job.Filename)
	if err != nil {
		return nil, err
	}

	rc, err := p.artifacts.Open(ctx, job.ArtifactKey)
	if err != nil {
		return nil, fmt.Errorf("%w: open artifact: %w", ErrJobIOFailure, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %w", ErrJobIOFailure, err)
	}

	return p.reader.Parse(bytes.NewReader(data), format)
}

// syncAll processes entries in row order with at most p.concurrency SKUs in
// flight. Duplicate SKUs after the first occurrence are not processed.
// cancel is called when the registry reports a cancel request.
func (p *Pipeline) syncAll(ctx context.Context, cancel context.CancelFunc, jobID string, entries []models.SKUEntry, log *zap.Logger) []models.SKUResult {
	results := make([]models.SKUResult, len(entries))
	seen := make(map[string]int, len(entries))
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, entry := range entries {
		if first, dup := seen[entry.Raw]; dup {
			log.Info("Duplicate SKU, already processed", zap.String("sku", entry.Raw), zap.Int("row", entry.Row), zap.Int("first_row", entries[first].Row))
			results[i] = models.SKUResult{SKU: entry.Raw, Row: entry.Row, Outcome: models.OutcomeDuplicate}
			continue
		}
		seen[entry.Raw] = i

		if err := ctx.Err(); err != nil {
			results[i] = cancelled(models.SKUResult{SKU: entry.Raw, Row: entry.Row}, err)
			continue
		}

		i, entry := i, entry
		g.Go(func() error {
			// Go blocks while the pool is full, so the job may have been
			// cancelled by the time this slot frees up.
			if err := ctx.Err(); err != nil {
				results[i] = cancelled(models.SKUResult{SKU: entry.Raw, Row: entry.Row}, err)
				return nil
			}
			results[i] = p.syncOne(ctx, entry, log)
			p.progress(ctx, cancel, jobID, log)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// syncOne runs the syncer for a single SKU. A panic is recorded as a failed
// lookup for that SKU so the rest of the job keeps going.
func (p *Pipeline) syncOne(ctx context.Context, entry models.SKUEntry, log *zap.Logger) (res models.SKUResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("SKU sync panicked", zap.String("sku", entry.Raw), zap.Int("row", entry.Row), zap.Any("panic", r), zap.Stack("stack"))
			res = models.SKUResult{SKU: entry.Raw, Row: entry.Row, Outcome: models.OutcomeLookupFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return p.syncer.Sync(ctx, entry)
}

func (p *Pipeline) progress(ctx context.Context, cancel context.CancelFunc, jobID string, log *zap.Logger) {
	job, err := p.update(ctx, jobID, func(j *models.Job) error {
		now := time.Now().UTC()
		j.DoneSKUs++
		j.HeartbeatAt = &now
		return nil
	})
	if err != nil {
		log.Warn("Failed to record progress", zap.Error(err))
		return
	}
	if job.CancelRequested {
		cancel()
	}
}

func (p *Pipeline) finish(ctx context.Context, job *models.Job, status models.JobStatus, errText string, summary *models.JobSummary, start time.Time, log *zap.Logger) error {
	updated, err := p.update(ctx, job.ID, func(j *models.Job) error {
		now := time.Now().UTC()
		j.Status = status
		j.Error = errText
		j.CompletedAt = &now
		j.Summary = summary
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}

	fields := []zap.Field{zap.String("status", string(status)), zap.Duration("duration", time.Since(start))}
	if summary != nil {
		fields = append(fields,
			zap.Int("total_rows", summary.TotalRows),
			zap.Int("processed", summary.Processed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
			zap.Int("malformed_rows", summary.MalformedRows),
			zap.Int("images_uploaded", summary.ImagesUploaded),
		)
	}
	log.Info("Job finished", fields...)

	p.publishFinished(ctx, updated, log)
	p.recordMetrics(ctx, updated, time.Since(start), log)
	return nil
}

func (p *Pipeline) removeArtifact(ctx context.Context, key string, log *zap.Logger) {
	err := p.artifacts.Remove(context.WithoutCancel(ctx), key)
	if err != nil {
		log.Error("Failed to remove job artifact", zap.String("artifact_key", key), zap.Error(fmt.Errorf("%w: %w", ErrJobIOFailure, err)))
		return
	}
	log.Debug("Job artifact removed", zap.String("artifact_key", key))
}

// publishFinished publishes the job outcome to SNS. Errors are logged only.
func (p *Pipeline) publishFinished(ctx context.Context, job *models.Job, log *zap.Logger) {
	if p.events == nil || p.eventsTopic == "" {
		return
	}
	payload, err := json.Marshal(models.NewJobFinishedEvent(job))
	if err != nil {
		log.Error("Failed to marshal job event", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registryTimeout)
	defer cancel()
	if err := p.events.Publish(pubCtx, p.eventsTopic, payload); err != nil {
		log.Warn("Failed to publish job event", zap.Error(err))
	}
}

func (p *Pipeline) recordMetrics(ctx context.Context, job *models.Job, d time.Duration, log *zap.Logger) {
	if p.metrics == nil {
		return
	}
	dims := map[string]string{"Status": string(job.Status)}
	data := []types.MetricDatum{
		awspkg.NewDatum(awspkg.MetricJobsFinished, 1, types.StandardUnitCount, dims),
		awspkg.NewDatum(awspkg.MetricJobDuration, float64(d.Milliseconds()), types.StandardUnitMilliseconds, dims),
	}
	if s := job.Summary; s != nil {
		data = append(data,
			awspkg.NewDatum(awspkg.MetricSKUsProcessed, float64(s.Processed), types.StandardUnitCount, nil),
			awspkg.NewDatum(awspkg.MetricSKUsSkipped, float64(s.Skipped), types.StandardUnitCount, nil),
			awspkg.NewDatum(awspkg.MetricSKUsFailed, float64(s.Failed), types.StandardUnitCount, nil),
			awspkg.NewDatum(awspkg.MetricImagesUploaded, float64(s.ImagesUploaded), types.StandardUnitCount, nil),
			awspkg.NewDatum(awspkg.MetricVariantsLinked, float64(s.VariantsLinked), types.StandardUnitCount, nil),
			awspkg.NewDatum(awspkg.MetricMalformedRows, float64(s.MalformedRows), types.StandardUnitCount, nil),
		)
	}
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registryTimeout)
	defer cancel()
	if err := p.metrics.PutMetricBatch(putCtx, data); err != nil {
		log.Warn("Failed to record job metrics", zap.Error(err))
	}
}

// update writes to the registry detached from job cancellation, so a
// cancelled job can still record its terminal state.
func (p *Pipeline) update(ctx context.Context, id string, mutate func(j *models.Job) error) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registryTimeout)
	defer cancel()
	return p.jobs.Update(ctx, id, mutate)
}
