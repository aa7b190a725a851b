package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"
)

// ConfigOptions overrides parts of the default AWS configuration chain.
type ConfigOptions struct {
	Region string
	// Endpoint points every client at one URL, e.g. a LocalStack edge port.
	Endpoint string
}

// LoadAWSConfig loads the default AWS config (env, shared files, IMDS) and
// applies opts on top.
func LoadAWSConfig(ctx context.Context, opts ConfigOptions, logger *zap.Logger) (sdkaws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}

	if opts.Endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(opts.Endpoint)
		logger.Info("Using custom AWS endpoint",
			zap.String("endpoint", opts.Endpoint),
			zap.String("region", cfg.Region),
		)
	}
	return cfg, nil
}
