// Package source implements the job sources the worker loop receives samples from.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

// maxSQSWait is the longest long-poll SQS accepts
const maxSQSWait = 20 * time.Second

type sqsAPI interface {
	GetQueueUrlWithContext(ctx aws.Context, input *sqs.GetQueueUrlInput, opts ...request.Option) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessageWithContext(ctx aws.Context, input *sqs.ReceiveMessageInput, opts ...request.Option) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageWithContext(ctx aws.Context, input *sqs.DeleteMessageInput, opts ...request.Option) (*sqs.DeleteMessageOutput, error)
}

// SQSConfig holds SQS receive settings
type SQSConfig struct {
	QueueName         string
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// SQSSource receives jobs from an SQS queue
type SQSSource struct {
	client   sqsAPI
	queueURL string
	config   SQSConfig
	logger   *slog.Logger
}

// NewSQSSource resolves the queue URL by name
func NewSQSSource(ctx context.Context, client sqsAPI, config SQSConfig, logger *slog.Logger) (*SQSSource, error) {
	out, err := client.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(config.QueueName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get url of queue %s: %w", config.QueueName, err)
	}

	if config.WaitTime > maxSQSWait {
		config.WaitTime = maxSQSWait
	}

	logger.Info("SQS job source ready",
		slog.String("queue", config.QueueName),
		slog.String("queue_url", aws.StringValue(out.QueueUrl)),
	)

	return &SQSSource{
		client:   client,
		queueURL: aws.StringValue(out.QueueUrl),
		config:   config,
		logger:   logger,
	}, nil
}

// Receive long-polls for up to maxMessages messages. An empty result is not an error.
// Messages without a job id are deleted, they can never be processed.
func (s *SQSSource) Receive(ctx context.Context, maxMessages int) ([]domain.Job, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: aws.Int64(int64(maxMessages)),
		WaitTimeSeconds:     aws.Int64(int64(s.config.WaitTime / time.Second)),
	}
	if s.config.VisibilityTimeout > 0 {
		input.VisibilityTimeout = aws.Int64(int64(s.config.VisibilityTimeout / time.Second))
	}

	out, err := s.client.ReceiveMessageWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	jobs := make([]domain.Job, 0, len(out.Messages))
	for _, msg := range out.Messages {
		id, err := domain.ParseJobID(aws.StringValue(msg.Body))
		if err != nil {
			s.logger.Warn("Discarding message without a valid job id",
				slog.String("message_id", aws.StringValue(msg.MessageId)),
				slog.Any("error", err),
			)
			if _, delErr := s.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(s.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); delErr != nil {
				s.logger.Error("Failed to delete malformed message",
					slog.String("message_id", aws.StringValue(msg.MessageId)),
					slog.Any("error", delErr),
				)
			}
			continue
		}

		jobs = append(jobs, domain.Job{
			ID:            id,
			ReceiptHandle: aws.StringValue(msg.ReceiptHandle),
		})
	}

	return jobs, nil
}

// Acknowledge deletes the message so it is never redelivered
func (s *SQSSource) Acknowledge(ctx context.Context, job domain.Job) error {
	_, err := s.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(job.ReceiptHandle),
	})
	if err == nil {
		return nil
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case sqs.ErrCodeReceiptHandleIsInvalid, sqs.ErrCodeInvalidIdFormat:
			return domain.NewAcknowledgeError(job.ID, err)
		}
	}

	return fmt.Errorf("failed to delete message for job %s: %w", job.ID, err)
}

// Release leaves the message in flight. It becomes visible again when its visibility
// timeout expires, which spaces out retries of a failing sample.
func (s *SQSSource) Release(_ context.Context, job domain.Job) error {
	s.logger.Debug("Message left for redelivery after visibility timeout",
		slog.String("job_id", job.ID),
	)
	return nil
}

// Close is a no-op, the SQS client holds no connection
func (s *SQSSource) Close() error {
	return nil
}
