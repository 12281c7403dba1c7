package ledgerexport

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StreamPass/internal/pkg/env"
)

// Uploader stores one export object.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// S3Uploader writes export objects to an S3 compatible bucket
type S3Uploader struct {
	s3Client *s3.Client
	config   *Config
}

// NewS3Uploader creates the client and checks that the bucket is reachable
func NewS3Uploader(ctx context.Context, cfg *Config) (*S3Uploader, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("ledger export is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	u := &S3Uploader{s3Client: s3Client, config: cfg}
	if err := u.testConnection(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[LedgerExport] Initialized S3 client for bucket: %s", cfg.BucketName)
	return u, nil
}

// testConnection checks that the bucket exists, creating it outside prod
func (u *S3Uploader) testConnection(ctx context.Context) error {
	_, err := u.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.config.BucketName),
	})
	if err == nil {
		return nil
	}
	if env.GetEnv("APP_ENV", "dev") == "prod" {
		return fmt.Errorf("bucket %s not accessible: %w", u.config.BucketName, err)
	}

	log.Warnf("[LedgerExport] Bucket %s not found, attempting to create it", u.config.BucketName)
	input := &s3.CreateBucketInput{Bucket: aws.String(u.config.BucketName)}
	if u.config.EndpointURL == "" && u.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(u.config.Region),
		}
	}
	if _, err := u.s3Client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", u.config.BucketName, err)
	}
	return nil
}

func (u *S3Uploader) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"upload-source": "streampass-ledger-export",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Infof("[LedgerExport] Uploaded s3://%s/%s (%d bytes)", u.config.BucketName, key, len(body))
	return nil
}
