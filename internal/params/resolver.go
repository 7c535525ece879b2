// Package params resolves the worker's run-time parameters once at startup.
package params

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ssm"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

var errEmptyValue = errors.New("parameter has no value")

// Resolver looks up a named parameter. Every failure is a *domain.ConfigurationError.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

type ssmAPI interface {
	GetParameterWithContext(ctx aws.Context, input *ssm.GetParameterInput, opts ...request.Option) (*ssm.GetParameterOutput, error)
}

// SSMResolver reads parameters from AWS Systems Manager Parameter Store
type SSMResolver struct {
	client         ssmAPI
	withDecryption bool
	logger         *slog.Logger
}

// NewSSMResolver creates a resolver backed by Parameter Store
func NewSSMResolver(client ssmAPI, withDecryption bool, logger *slog.Logger) *SSMResolver {
	return &SSMResolver{
		client:         client,
		withDecryption: withDecryption,
		logger:         logger,
	}
}

// Resolve fetches a single parameter value
func (r *SSMResolver) Resolve(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(r.withDecryption),
	})
	if err != nil {
		return "", domain.NewConfigurationError(name, err)
	}

	if out.Parameter == nil || aws.StringValue(out.Parameter.Value) == "" {
		return "", domain.NewConfigurationError(name, errEmptyValue)
	}

	r.logger.Debug("Resolved parameter",
		slog.String("name", name),
		slog.Int64("version", aws.Int64Value(out.Parameter.Version)),
	)

	return aws.StringValue(out.Parameter.Value), nil
}

// StaticResolver serves parameters from configuration, for runs outside AWS
type StaticResolver map[string]string

// Resolve returns the configured value
func (r StaticResolver) Resolve(_ context.Context, name string) (string, error) {
	value, ok := r[name]
	if !ok || value == "" {
		return "", domain.NewConfigurationError(name, errEmptyValue)
	}
	return value, nil
}

// Parameters are the two values the worker cannot start without
type Parameters struct {
	QueueName  string
	BucketName string
}

// ResolveAll resolves the queue and bucket names, stopping at the first failure
func ResolveAll(ctx context.Context, r Resolver, queueKey, bucketKey string) (*Parameters, error) {
	queueName, err := r.Resolve(ctx, queueKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve queue name: %w", err)
	}

	bucketName, err := r.Resolve(ctx, bucketKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bucket name: %w", err)
	}

	return &Parameters{QueueName: queueName, BucketName: bucketName}, nil
}
