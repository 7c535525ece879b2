package awsclient

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
)

// Config holds AWS client configuration. It is passed explicitly into every client
// constructor; nothing reads or mutates AWS_* environment variables at run time.
type Config struct {
	Region              string
	Endpoint            string
	UseInstanceMetadata bool
	MaxRetries          int
}

type metadataAPI interface {
	AvailableWithContext(ctx aws.Context) bool
	RegionWithContext(ctx aws.Context) (string, error)
	GetInstanceIdentityDocumentWithContext(ctx aws.Context) (ec2metadata.EC2InstanceIdentityDocument, error)
}

// Client bundles the configured session with the instance identity it runs on
type Client struct {
	Session    *session.Session
	Region     string
	InstanceID string
}

// NewClient builds a session for the configured region, falling back to the EC2
// instance metadata service when no region is configured
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	base, err := session.NewSession(aws.NewConfig().WithMaxRetries(cfg.MaxRetries))
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return newClient(ctx, cfg, base, ec2metadata.New(base), logger)
}

func newClient(ctx context.Context, cfg *Config, base *session.Session, metadata metadataAPI, logger *slog.Logger) (*Client, error) {
	onEC2 := cfg.UseInstanceMetadata && metadata.AvailableWithContext(ctx)

	region := cfg.Region
	if region == "" && onEC2 {
		r, err := metadata.RegionWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read region from instance metadata: %w", err)
		}
		region = r
	}
	if region == "" {
		return nil, fmt.Errorf("aws region is required")
	}

	instanceID := ""
	if onEC2 {
		doc, err := metadata.GetInstanceIdentityDocumentWithContext(ctx)
		if err != nil {
			logger.Warn("Failed to read instance identity document",
				slog.Any("error", err),
			)
		} else {
			instanceID = doc.InstanceID
		}
	}
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}

	awsCfg := aws.NewConfig().WithRegion(region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	logger.Info("AWS session configured",
		slog.String("region", region),
		slog.String("instance_id", instanceID),
		slog.Bool("custom_endpoint", cfg.Endpoint != ""),
	)

	return &Client{
		Session:    base.Copy(awsCfg),
		Region:     region,
		InstanceID: instanceID,
	}, nil
}
