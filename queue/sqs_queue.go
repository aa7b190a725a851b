package queue

import (
	"context"

	awspkg "github.com/pilievwm/ccimageupload/pkg/aws"
)

// SQSQueue carries job ids as SQS message bodies. A message is deleted only
// after its job handler returns nil, so a crashed worker's job is redelivered.
type SQSQueue struct {
	consumer *awspkg.SQSConsumer
}

// NewSQSQueue creates a queue on top of an SQS consumer.
func NewSQSQueue(consumer *awspkg.SQSConsumer) *SQSQueue {
	return &SQSQueue{consumer: consumer}
}

func (q *SQSQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.consumer.SendMessage(ctx, jobID)
}

func (q *SQSQueue) Consume(ctx context.Context, handler Handler) error {
	return q.consumer.StartPolling(ctx, func(ctx context.Context, body string) error {
		return handler(ctx, body)
	})
}
