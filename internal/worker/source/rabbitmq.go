package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
	"github.com/cuongbtq/transcriptomics-atlas/shared/rabbitmq"
)

type amqpClient interface {
	Get(queue string) (amqp.Delivery, bool, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
	Close() error
}

var _ amqpClient = (*rabbitmq.Client)(nil)

// RabbitMQConfig holds polling settings
type RabbitMQConfig struct {
	QueueName    string
	WaitTime     time.Duration
	PollInterval time.Duration
}

// RabbitMQSource pulls jobs from a RabbitMQ queue with basic.get.
// Failed jobs are nacked with requeue; deliveries still unacked when the channel
// closes are redelivered by the broker.
type RabbitMQSource struct {
	client amqpClient
	config RabbitMQConfig
	logger *slog.Logger
}

// NewRabbitMQSource wraps a connected client
func NewRabbitMQSource(client amqpClient, config RabbitMQConfig, logger *slog.Logger) *RabbitMQSource {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &RabbitMQSource{
		client: client,
		config: config,
		logger: logger,
	}
}

// Receive polls until a message arrives, maxMessages are collected or the wait time elapses
func (s *RabbitMQSource) Receive(ctx context.Context, maxMessages int) ([]domain.Job, error) {
	deadline := time.Now().Add(s.config.WaitTime)
	jobs := make([]domain.Job, 0, maxMessages)

	for {
		for len(jobs) < maxMessages {
			msg, ok, err := s.client.Get(s.config.QueueName)
			if err != nil {
				if len(jobs) > 0 {
					return jobs, nil
				}
				return nil, fmt.Errorf("failed to poll queue %s: %w", s.config.QueueName, err)
			}
			if !ok {
				break
			}

			id, err := domain.ParseJobID(string(msg.Body))
			if err != nil {
				s.logger.Warn("Rejecting message without a valid job id",
					slog.Uint64("delivery_tag", msg.DeliveryTag),
					slog.Any("error", err),
				)
				if nackErr := s.client.Nack(msg.DeliveryTag, false); nackErr != nil {
					s.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			jobs = append(jobs, domain.Job{ID: id, DeliveryTag: msg.DeliveryTag})
		}

		if len(jobs) > 0 || !time.Now().Before(deadline) {
			return jobs, nil
		}

		select {
		case <-ctx.Done():
			return jobs, nil
		case <-time.After(s.config.PollInterval):
		}
	}
}

// Acknowledge acks the delivery. A tag from a closed channel cannot be acked and is redelivered.
func (s *RabbitMQSource) Acknowledge(_ context.Context, job domain.Job) error {
	if err := s.client.Ack(job.DeliveryTag); err != nil {
		return domain.NewAcknowledgeError(job.ID, err)
	}
	return nil
}

// Release nacks the delivery with requeue so another get sees it again
func (s *RabbitMQSource) Release(_ context.Context, job domain.Job) error {
	if err := s.client.Nack(job.DeliveryTag, true); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	return nil
}

// Close closes the underlying connection
func (s *RabbitMQSource) Close() error {
	return s.client.Close()
}
