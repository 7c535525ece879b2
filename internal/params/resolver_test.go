package params

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

type fakeSSM struct {
	values map[string]string
	err    error
	inputs []*ssm.GetParameterInput
}

func (f *fakeSSM) GetParameterWithContext(_ aws.Context, input *ssm.GetParameterInput, _ ...request.Option) (*ssm.GetParameterOutput, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[aws.StringValue(input.Name)]
	if !ok {
		return nil, awserr.New(ssm.ErrCodeParameterNotFound, "parameter not found", nil)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssm.Parameter{
			Name:    input.Name,
			Value:   aws.String(value),
			Version: aws.Int64(3),
		},
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSSMResolver_Resolve(t *testing.T) {
	client := &fakeSSM{values: map[string]string{
		"/neardata/queue_name":     "neardata-queue",
		"/neardata/s3_bucket_name": "",
	}}
	resolver := NewSSMResolver(client, true, discardLogger())

	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{name: "present parameter", key: "/neardata/queue_name", want: "neardata-queue"},
		{name: "absent parameter", key: "/neardata/missing", wantErr: true},
		{name: "empty parameter", key: "/neardata/s3_bucket_name", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := resolver.Resolve(context.Background(), tt.key)

			if tt.wantErr {
				require.Error(t, err)
				var cfgErr *domain.ConfigurationError
				require.True(t, errors.As(err, &cfgErr))
				assert.Equal(t, tt.key, cfgErr.Key)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}

	require.NotEmpty(t, client.inputs)
	assert.True(t, aws.BoolValue(client.inputs[0].WithDecryption))
}

func TestSSMResolver_Unreachable(t *testing.T) {
	client := &fakeSSM{err: awserr.New("RequestError", "send request failed", errors.New("dial tcp: i/o timeout"))}
	resolver := NewSSMResolver(client, false, discardLogger())

	_, err := resolver.Resolve(context.Background(), "/neardata/queue_name")
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "send request failed")
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"queue": "samples", "bucket": ""}

	value, err := r.Resolve(context.Background(), "queue")
	require.NoError(t, err)
	assert.Equal(t, "samples", value)

	_, err = r.Resolve(context.Background(), "bucket")
	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = r.Resolve(context.Background(), "other")
	assert.True(t, errors.As(err, &cfgErr))
}

func TestResolveAll(t *testing.T) {
	t.Run("both present", func(t *testing.T) {
		p, err := ResolveAll(context.Background(), StaticResolver{"q": "queue", "b": "bucket"}, "q", "b")
		require.NoError(t, err)
		assert.Equal(t, &Parameters{QueueName: "queue", BucketName: "bucket"}, p)
	})

	t.Run("bucket missing", func(t *testing.T) {
		p, err := ResolveAll(context.Background(), StaticResolver{"q": "queue"}, "q", "b")
		require.Error(t, err)
		assert.Nil(t, p)
		assert.Contains(t, err.Error(), "failed to resolve bucket name")

		var cfgErr *domain.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
	})
}
