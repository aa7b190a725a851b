package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSAPI is the subset of the SQS client used by SQSConsumer.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSConsumer provides methods for consuming messages from SQS queues
type SQSConsumer struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger

	// WaitTimeSeconds is the long-poll duration of one receive call.
	WaitTimeSeconds int32
	// VisibilityTimeout hides a received message from other consumers
	// while it is processed.
	VisibilityTimeout int32
	// VisibilityHeartbeat is how often the visibility timeout of the message
	// being handled is pushed back out. Zero uses a third of
	// VisibilityTimeout.
	VisibilityHeartbeat time.Duration
	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
}

// NewSQSConsumer creates a new SQS consumer for the given queue URL
func NewSQSConsumer(client SQSAPI, queueURL string, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{
		client:            client,
		queueURL:          queueURL,
		logger:            logger,
		WaitTimeSeconds:   20,
		VisibilityTimeout: 900,
		ErrorBackoff:      time.Second,
	}
}

// NewSQSClient creates a new SQS client from AWS config.
func NewSQSClient(cfg sdkaws.Config) *sqs.Client {
	return sqs.NewFromConfig(cfg)
}

// MessageHandler is a function that processes an SQS message
type MessageHandler func(ctx context.Context, body string) error

// StartPolling receives one message at a time and hands it to handler,
// deleting it only when handler succeeds. It blocks until ctx is cancelled.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL))

	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("SQS polling stopped")
			return err
		}
		if err := c.pollOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Error polling SQS", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.ErrorBackoff):
			}
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     c.WaitTimeSeconds,
		VisibilityTimeout:   c.VisibilityTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		stop := c.extendVisibility(ctx, msg.ReceiptHandle)
		err := handler(ctx, *msg.Body)
		stop()
		if err != nil {
			// Message becomes visible again after VisibilityTimeout.
			c.logger.Warn("Failed to process message", zap.String("message_id", sdkaws.ToString(msg.MessageId)), zap.Error(err))
			continue
		}

		// The job already ran; deleting must not depend on shutdown.
		if _, err := c.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Error("Failed to delete message", zap.Error(err))
		}
	}
	return nil
}

// extendVisibility keeps receipt hidden from other consumers until the
// returned stop func is called.
func (c *SQSConsumer) extendVisibility(ctx context.Context, receipt *string) (stop func()) {
	every := c.VisibilityHeartbeat
	if every <= 0 {
		every = time.Duration(c.VisibilityTimeout) * time.Second / 3
	}
	if every <= 0 || receipt == nil {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if _, err := c.client.ChangeMessageVisibility(hbCtx, &sqs.ChangeMessageVisibilityInput{
					QueueUrl:          &c.queueURL,
					ReceiptHandle:     receipt,
					VisibilityTimeout: c.VisibilityTimeout,
				}); err != nil && hbCtx.Err() == nil {
					c.logger.Warn("Failed to extend message visibility", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// SendMessage sends a single message to the queue
func (c *SQSConsumer) SendMessage(ctx context.Context, body string) error {
	if body == "" {
		return errors.New("empty message body")
	}
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &c.queueURL,
		MessageBody: &body,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
