package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSPublisher is a minimal interface for publishing messages to SNS.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte) error
}

// SNSAPI is the subset of the SNS client used by SNSClient.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client SNSAPI
	logger *zap.Logger
}

// NewSNSClient wraps an SNS API client.
func NewSNSClient(client SNSAPI, logger *zap.Logger) *SNSClient {
	return &SNSClient{client: client, logger: logger}
}

// NewSNSClientFromConfig builds the SDK client from AWS config.
func NewSNSClientFromConfig(cfg sdkaws.Config, logger *zap.Logger) *SNSClient {
	return NewSNSClient(sns.NewFromConfig(cfg), logger)
}

// Publish publishes a raw message to the given SNS topic ARN.
func (s *SNSClient) Publish(ctx context.Context, topicArn string, message []byte) error {
	if topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	s.logger.Debug("Publishing SNS message", zap.String("topic_arn", topicArn), zap.Int("message_len", len(message)))

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}
