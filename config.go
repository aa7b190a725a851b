package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pilievwm/ccimageupload/services"
)

// Config holds all configuration for the image sync service.
type Config struct {
	Port   string `validate:"required,numeric"`
	AppEnv string `validate:"oneof=development production test"`

	CatalogAPIURL    string        `validate:"required,url"`
	CatalogAPIPrefix string        `validate:"required,startswith=/"`
	CatalogAPIKey    string        `validate:"required"`
	CatalogTimeout   time.Duration `validate:"gt=0"`
	CatalogRPS       float64       `validate:"gte=0"`
	CatalogRetries   int           `validate:"gte=1,lte=10"`

	CDNBaseURL   string        `validate:"required,url"`
	ProbeTimeout time.Duration `validate:"gt=0"`
	ProbeRetries int           `validate:"gte=1,lte=10"`
	ProbeRPS     float64       `validate:"gte=0"`

	IdempotencyPolicy string `validate:"oneof=any first"`
	SKUConcurrency    int    `validate:"gte=1,lte=64"`
	WorkerCount       int    `validate:"gte=1,lte=64"`

	QueueBackend  string `validate:"oneof=memory redis sqs"`
	QueueCapacity int    `validate:"gte=1"`
	RedisQueueKey string
	JobStore      string        `validate:"oneof=memory redis"`
	RedisURL      string        `validate:"omitempty,url"`
	JobTTL        time.Duration `validate:"gte=0"`

	ArtifactStore string `validate:"oneof=local s3"`
	UploadDir     string `validate:"required_if=ArtifactStore local"`
	S3Bucket      string `validate:"required_if=ArtifactStore s3"`
	S3Prefix      string
	SQSQueueURL   string `validate:"required_if=QueueBackend sqs"`

	AWSRegion   string
	AWSEndpoint string `validate:"omitempty,url"`
	UseSecrets  bool

	JobEventsTopicARN string
	JWTSecret         string
	AllowedOrigins    string
	UploadsPerMinute  int `validate:"gte=0"`

	CloudWatchEnabled  bool
	CloudWatchLogGroup string
	MetricsNamespace   string
}

// Secret names read from AWS Secrets Manager when AWS_USE_SECRETS=true.
const (
	secretCatalogAPIKey = "imagesync/CATALOG_API_KEY"
	secretJWT           = "imagesync/JWT_SECRET"
)

// SecretGetter resolves a named secret.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// LoadConfig loads an optional .env file and reads the environment. It does
// not validate; call Validate after secrets have been applied.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "development"),

		CatalogAPIURL:    os.Getenv("CATALOG_API_URL"),
		CatalogAPIPrefix: getEnv("CATALOG_API_PREFIX", "/api/v2"),
		CatalogAPIKey:    os.Getenv("CATALOG_API_KEY"),
		CatalogTimeout:   getDuration("CATALOG_TIMEOUT", 15*time.Second, &errs),
		CatalogRPS:       getFloat("CATALOG_RPS", 5, &errs),
		CatalogRetries:   getInt("CATALOG_RETRIES", 3, &errs),

		CDNBaseURL:   getEnv("CDN_BASE_URL", services.DefaultCDNBaseURL),
		ProbeTimeout: getDuration("PROBE_TIMEOUT", 5*time.Second, &errs),
		ProbeRetries: getInt("PROBE_RETRIES", 2, &errs),
		ProbeRPS:     getFloat("PROBE_RPS", 20, &errs),

		IdempotencyPolicy: strings.ToLower(getEnv("IDEMPOTENCY_POLICY", "any")),
		SKUConcurrency:    getInt("SKU_CONCURRENCY", 1, &errs),
		WorkerCount:       getInt("WORKER_COUNT", 2, &errs),

		QueueBackend:  strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
		QueueCapacity: getInt("QUEUE_CAPACITY", 100, &errs),
		RedisQueueKey: getEnv("REDIS_QUEUE_KEY", "imagesync:queue"),
		JobStore:      strings.ToLower(getEnv("JOB_STORE", "memory")),
		RedisURL:      os.Getenv("REDIS_URL"),
		JobTTL:        getDuration("JOB_TTL", 24*time.Hour, &errs),

		ArtifactStore: strings.ToLower(getEnv("ARTIFACT_STORE", "local")),
		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		S3Bucket:      os.Getenv("AWS_S3_BUCKET"),
		S3Prefix:      getEnv("AWS_S3_PREFIX", "uploads/"),
		SQSQueueURL:   os.Getenv("SQS_QUEUE_URL"),

		AWSRegion:   getEnv("AWS_REGION", "eu-west-2"),
		AWSEndpoint: os.Getenv("AWS_ENDPOINT"),
		UseSecrets:  getBool("AWS_USE_SECRETS", false, &errs),

		JobEventsTopicARN: os.Getenv("JOB_EVENTS_TOPIC_ARN"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
		UploadsPerMinute:  getInt("UPLOADS_PER_MINUTE", 30, &errs),

		CloudWatchEnabled:  getBool("CLOUDWATCH_ENABLED", false, &errs),
		CloudWatchLogGroup: os.Getenv("CLOUDWATCH_LOG_GROUP"),
		MetricsNamespace:   os.Getenv("METRICS_NAMESPACE"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplySecrets overrides the catalog API key and JWT secret with values from
// sm. Missing secrets keep the environment values.
func (c *Config) ApplySecrets(ctx context.Context, sm SecretGetter) {
	if v, err := sm.GetSecret(ctx, secretCatalogAPIKey); err == nil && v != "" {
		c.CatalogAPIKey = v
	}
	if v, err := sm.GetSecret(ctx, secretJWT); err == nil && v != "" {
		c.JWTSecret = v
	}
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.UseSecrets || c.CloudWatchEnabled || c.QueueBackend == "sqs" ||
		c.ArtifactStore == "s3" || c.JobEventsTopicARN != ""
}

var validate = validator.New()

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if (c.QueueBackend == "redis" || c.JobStore == "redis") && c.RedisURL == "" {
		return errors.New("invalid config: REDIS_URL is required for redis queue or job store")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64, errs *[]error) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getBool(key string, fallback bool, errs *[]error) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

// getDuration accepts Go duration strings ("5s") or bare seconds ("5").
func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
