// Package store implements the result store the processor checks and uploads artifacts to.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

// Store operations, used in StoreError
const (
	OpExists = "exists"
	OpUpload = "upload"
)

type headObjectAPI interface {
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
}

type uploaderAPI interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Config holds result store settings
type Config struct {
	Bucket        string
	CheckTimeout  time.Duration
	UploadTimeout time.Duration
}

// S3Store keeps artifacts in a single S3 bucket
type S3Store struct {
	head     headObjectAPI
	uploader uploaderAPI
	config   Config
	logger   *slog.Logger
}

// NewS3Store creates a store over an S3 client. Uploads go through the multipart upload manager.
func NewS3Store(client *s3.S3, config Config, logger *slog.Logger) *S3Store {
	return newS3Store(client, s3manager.NewUploaderWithClient(client), config, logger)
}

func newS3Store(head headObjectAPI, uploader uploaderAPI, config Config, logger *slog.Logger) *S3Store {
	return &S3Store{
		head:     head,
		uploader: uploader,
		config:   config,
		logger:   logger,
	}
}

// Bucket returns the bucket artifacts are stored in
func (s *S3Store) Bucket() string {
	return s.config.Bucket
}

// Exists reports whether an object is stored under key.
// Only a definite not-found answer yields false; every other failure is a *domain.StoreError.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	if s.config.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.CheckTimeout)
		defer cancel()
	}

	_, err := s.head.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	if isNotFound(err) {
		return false, nil
	}

	return false, domain.NewStoreError(OpExists, key, err)
}

// Upload copies a local file to key
func (s *S3Store) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return domain.NewStoreError(OpUpload, key, fmt.Errorf("failed to open %s: %w", localPath, err))
	}
	defer file.Close()

	if s.config.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.UploadTimeout)
		defer cancel()
	}

	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return domain.NewStoreError(OpUpload, key, err)
	}

	s.logger.Debug("Uploaded artifact",
		slog.String("bucket", s.config.Bucket),
		slog.String("key", key),
		slog.String("location", out.Location),
	)

	return nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case "NotFound", s3.ErrCodeNoSuchKey:
			return true
		}
	}

	return false
}
