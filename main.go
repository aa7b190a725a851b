package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	apperrors "github.com/pilievwm/ccimageupload/common/errors"
	"github.com/pilievwm/ccimageupload/common/logger"
	"github.com/pilievwm/ccimageupload/controllers"
	"github.com/pilievwm/ccimageupload/middleware"
	awspkg "github.com/pilievwm/ccimageupload/pkg/aws"
	"github.com/pilievwm/ccimageupload/providers"
	"github.com/pilievwm/ccimageupload/queue"
	"github.com/pilievwm/ccimageupload/repository"
	"github.com/pilievwm/ccimageupload/routes"
	"github.com/pilievwm/ccimageupload/services"
	"github.com/pilievwm/ccimageupload/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "image-sync-service"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	// --- AWS ---
	var awsCfg sdkaws.Config
	if cfg.NeedsAWS() {
		awsCfg, err = awspkg.LoadAWSConfig(ctx, awspkg.ConfigOptions{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint}, log)
		if err != nil {
			log.Fatal("Failed to load AWS config", zap.Error(err))
		}
	}

	if cfg.CloudWatchEnabled {
		cwLogs, err := awspkg.NewCloudWatchLogsClientFromConfig(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			log.Warn("CloudWatch logs client init failed (non-fatal)", zap.Error(err))
		} else if teed, err := logger.InitializeWithWriter(cfg.AppEnv, cwLogs); err == nil {
			log = teed
		}
	}

	if cfg.UseSecrets {
		cfg.ApplySecrets(ctx, awspkg.NewSecretsClientFromConfig(awsCfg))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Config validation failed", zap.Error(err))
	}
	policy, err := services.ParseIdempotencyPolicy(cfg.IdempotencyPolicy)
	if err != nil {
		log.Fatal("Invalid idempotency policy", zap.Error(err))
	}

	// --- Redis ---
	var rdb *redis.Client
	if cfg.QueueBackend == "redis" || cfg.JobStore == "redis" {
		rdb, err = newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		log.Info("Connected to Redis")
	}

	// --- Job registry, queue, artifact store ---
	var jobs repository.JobRepository = repository.NewMemoryJobRepository()
	if cfg.JobStore == "redis" {
		jobs = repository.NewRedisJobRepository(rdb, cfg.JobTTL)
	}

	var jobQueue queue.JobQueue
	switch cfg.QueueBackend {
	case "redis":
		jobQueue = queue.NewRedisQueue(rdb, cfg.RedisQueueKey, log)
	case "sqs":
		jobQueue = queue.NewSQSQueue(awspkg.NewSQSConsumer(awspkg.NewSQSClient(awsCfg), cfg.SQSQueueURL, log))
	default:
		jobQueue = queue.NewMemoryQueue(cfg.QueueCapacity, log)
	}

	var artifacts storage.ArtifactStore
	if cfg.ArtifactStore == "s3" {
		artifacts = storage.NewS3Store(awspkg.NewS3Client(awsCfg), cfg.S3Bucket, cfg.S3Prefix)
	} else {
		local, err := storage.NewLocalStore(cfg.UploadDir)
		if err != nil {
			log.Fatal("Failed to prepare upload directory", zap.Error(err), zap.String("dir", cfg.UploadDir))
		}
		artifacts = local
	}

	// --- Remote providers ---
	catalog := providers.NewCloudCartProvider(providers.CloudCartOptions{
		BaseURL:   cfg.CatalogAPIURL,
		APIPrefix: cfg.CatalogAPIPrefix,
		APIKey:    cfg.CatalogAPIKey,
		Timeout:   cfg.CatalogTimeout,
		Limiter:   providers.NewLimiter(cfg.CatalogRPS),
		Retry:     providers.RetryPolicy{Attempts: cfg.CatalogRetries, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
	}, log)
	prober := providers.NewHTTPProber(
		cfg.ProbeTimeout,
		providers.NewLimiter(cfg.ProbeRPS),
		providers.RetryPolicy{Attempts: cfg.ProbeRetries, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		log,
	)
	resolver := services.NewImageResolver(cfg.CDNBaseURL, prober, log)

	// --- Pipeline and workers ---
	metricsClient := awspkg.NewMetricsClient(nil, cfg.MetricsNamespace, false)
	if cfg.CloudWatchEnabled {
		metricsClient = awspkg.NewMetricsClientFromConfig(awsCfg, cfg.MetricsNamespace, true)
	}
	pipelineCfg := services.PipelineConfig{
		Jobs:        jobs,
		Artifacts:   artifacts,
		Syncer:      services.NewSKUSynchronizer(catalog, resolver, policy, log),
		Concurrency: cfg.SKUConcurrency,
		Logger:      log,
	}
	if metricsClient.IsEnabled() {
		pipelineCfg.Metrics = metricsClient
	}
	if cfg.JobEventsTopicARN != "" {
		pipelineCfg.Events = awspkg.NewSNSClientFromConfig(awsCfg, log)
		pipelineCfg.EventsTopic = cfg.JobEventsTopicARN
	}
	pipeline := services.NewPipeline(pipelineCfg)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	pool := services.NewWorkerPool(jobQueue, pipeline, cfg.WorkerCount, log)
	pool.Start(workerCtx)

	// --- HTTP ---
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.MetricsMiddleware(metricsClient, serviceName))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(apperrors.ErrorMiddleware())

	jobService := services.NewJobService(jobs, artifacts, jobQueue, log)
	routes.RegisterRoutes(r, controllers.NewJobController(jobService, log), routes.Options{
		JWTSecret:        cfg.JWTSecret,
		UploadsPerMinute: cfg.UploadsPerMinute,
	})
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set; API routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Image sync service starting",
			zap.String("port", cfg.Port),
			zap.String("queue", cfg.QueueBackend),
			zap.String("job_store", cfg.JobStore),
			zap.String("artifact_store", cfg.ArtifactStore),
			zap.Int("workers", cfg.WorkerCount),
			zap.String("idempotency_policy", string(policy)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down image sync service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	stopWorkers()
	pool.Wait()
	log.Info("Image sync service stopped gracefully")
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
