package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

type fakeSQS struct {
	urlErr     error
	messages   []*sqs.Message
	receiveErr error
	deleteErr  error

	receiveInput *sqs.ReceiveMessageInput
	deleted      []string
}

func (f *fakeSQS) GetQueueUrlWithContext(_ aws.Context, input *sqs.GetQueueUrlInput, _ ...request.Option) (*sqs.GetQueueUrlOutput, error) {
	if f.urlErr != nil {
		return nil, f.urlErr
	}
	return &sqs.GetQueueUrlOutput{
		QueueUrl: aws.String("https://sqs.eu-west-1.amazonaws.com/123456789012/" + aws.StringValue(input.QueueName)),
	}, nil
}

func (f *fakeSQS) ReceiveMessageWithContext(_ aws.Context, input *sqs.ReceiveMessageInput, _ ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	f.receiveInput = input
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	msgs := f.messages
	f.messages = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessageWithContext(_ aws.Context, input *sqs.DeleteMessageInput, _ ...request.Option) (*sqs.DeleteMessageOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, aws.StringValue(input.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func message(id, body, receipt string) *sqs.Message {
	return &sqs.Message{
		MessageId:     aws.String(id),
		Body:          aws.String(body),
		ReceiptHandle: aws.String(receipt),
	}
}

func TestNewSQSSource(t *testing.T) {
	t.Run("resolves queue url", func(t *testing.T) {
		src, err := NewSQSSource(context.Background(), &fakeSQS{}, SQSConfig{QueueName: "neardata-queue", WaitTime: time.Minute}, discardLogger())
		require.NoError(t, err)
		assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com/123456789012/neardata-queue", src.queueURL)
		assert.Equal(t, 20*time.Second, src.config.WaitTime)
	})

	t.Run("unknown queue", func(t *testing.T) {
		client := &fakeSQS{urlErr: awserr.New(sqs.ErrCodeQueueDoesNotExist, "queue does not exist", nil)}
		_, err := NewSQSSource(context.Background(), client, SQSConfig{QueueName: "missing"}, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get url of queue missing")
	})
}

func TestSQSSource_Receive(t *testing.T) {
	client := &fakeSQS{messages: []*sqs.Message{
		message("m1", " SRR1234567\n", "rh-1"),
		message("m2", "   ", "rh-2"),
	}}
	src, err := NewSQSSource(context.Background(), client, SQSConfig{
		QueueName:         "q",
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 12 * time.Hour,
	}, discardLogger())
	require.NoError(t, err)

	jobs, err := src.Receive(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, jobs, 1)
	assert.Equal(t, domain.Job{ID: "SRR1234567", ReceiptHandle: "rh-1"}, jobs[0])
	assert.Equal(t, []string{"rh-2"}, client.deleted)

	assert.Equal(t, int64(1), aws.Int64Value(client.receiveInput.MaxNumberOfMessages))
	assert.Equal(t, int64(20), aws.Int64Value(client.receiveInput.WaitTimeSeconds))
	assert.Equal(t, int64(43200), aws.Int64Value(client.receiveInput.VisibilityTimeout))

	t.Run("empty poll", func(t *testing.T) {
		jobs, err := src.Receive(context.Background(), 1)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("transport error", func(t *testing.T) {
		client.receiveErr = errors.New("connection refused")
		defer func() { client.receiveErr = nil }()

		_, err := src.Receive(context.Background(), 1)
		assert.Error(t, err)
	})
}

func TestSQSSource_Acknowledge(t *testing.T) {
	tests := []struct {
		name       string
		deleteErr  error
		wantAckErr bool
		wantErr    bool
	}{
		{name: "deleted"},
		{
			name:       "stale receipt",
			deleteErr:  awserr.New(sqs.ErrCodeReceiptHandleIsInvalid, "receipt handle has expired", nil),
			wantAckErr: true,
			wantErr:    true,
		},
		{
			name:      "transport failure",
			deleteErr: errors.New("i/o timeout"),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSQS{deleteErr: tt.deleteErr}
			src, err := NewSQSSource(context.Background(), client, SQSConfig{QueueName: "q"}, discardLogger())
			require.NoError(t, err)

			err = src.Acknowledge(context.Background(), domain.Job{ID: "SRR1", ReceiptHandle: "rh-1"})

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, []string{"rh-1"}, client.deleted)
				return
			}

			require.Error(t, err)
			var ackErr *domain.AcknowledgeError
			assert.Equal(t, tt.wantAckErr, errors.As(err, &ackErr))
		})
	}
}

func TestSQSSource_DiscardsUnsafeJobID(t *testing.T) {
	client := &fakeSQS{messages: []*sqs.Message{
		message("m1", "..", "rh-1"),
		message("m2", "a/b", "rh-2"),
		message("m3", "SRR7", "rh-3"),
	}}
	src, err := NewSQSSource(context.Background(), client, SQSConfig{QueueName: "q"}, discardLogger())
	require.NoError(t, err)

	jobs, err := src.Receive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "SRR7", jobs[0].ID)
	assert.Equal(t, []string{"rh-1", "rh-2"}, client.deleted)
}

func TestSQSSource_ReleaseLeavesMessageInFlight(t *testing.T) {
	client := &fakeSQS{}
	src, err := NewSQSSource(context.Background(), client, SQSConfig{QueueName: "q"}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, src.Release(context.Background(), domain.Job{ID: "SRR1", ReceiptHandle: "rh-1"}))
	assert.Empty(t, client.deleted)
}
