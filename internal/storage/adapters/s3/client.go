package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/observability/types"
	storagetypes "github.com/kit0ra/SCDownloader/internal/storage/types"
)

// API is the subset of the S3 client used by Client.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Client implements the ObjectStorage interface for AWS S3
type Client struct {
	api     API
	config  config.S3Config
	logger  types.Logger
	metrics types.Metrics
}

// NewClient creates a new S3 storage client
func NewClient(cfg config.StorageConfig, logger types.Logger, metrics types.Metrics) (*Client, error) {
	if cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("invalid S3 configuration: bucket is required")
	}

	// Build AWS configuration
	awsCfg, err := buildAWSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})

	return NewClientWithAPI(s3Client, cfg.S3, logger, metrics), nil
}

// NewClientWithAPI creates a client over an existing S3 API implementation.
func NewClientWithAPI(api API, cfg config.S3Config, logger types.Logger, metrics types.Metrics) *Client {
	return &Client{
		api:     api,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Put stores an object in S3. The reader is streamed; a known
// ContentLength is forwarded so the SDK does not buffer the body.
func (c *Client) Put(ctx context.Context, bucket, key string, reader io.Reader, metadata storagetypes.ObjectMetadata) error {
	start := time.Now()
	defer func() {
		c.metrics.RecordDuration("put", time.Since(start).Seconds())
	}()

	// If bucket is not specified, use the default from config
	if bucket == "" {
		bucket = c.config.Bucket
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   reader,
	}
	if metadata.ContentType != "" {
		input.ContentType = aws.String(metadata.ContentType)
	}
	if metadata.ContentLength > 0 {
		input.ContentLength = aws.Int64(metadata.ContentLength)
	}
	if len(metadata.UserMetadata) > 0 {
		input.Metadata = metadata.UserMetadata
	}

	if _, err := c.api.PutObject(ctx, input); err != nil {
		c.metrics.RecordError("put", "s3")
		c.logger.Error(ctx, "failed to put object", err, types.Fields{
			"bucket": bucket,
			"key":    key,
		})
		return fmt.Errorf("failed to put object: %w", err)
	}

	c.metrics.RecordSuccess("put")
	c.metrics.RecordFileSize("object", metadata.ContentLength)
	c.logger.Debug(ctx, "object stored successfully", types.Fields{
		"bucket": bucket,
		"key":    key,
		"size":   metadata.ContentLength,
	})

	return nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if bucket == "" {
		bucket = c.config.Bucket
	}

	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// Delete removes an object from S3
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	if bucket == "" {
		bucket = c.config.Bucket
	}

	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		c.logger.Error(ctx, "failed to delete object", err, types.Fields{
			"bucket": bucket,
			"key":    key,
		})
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// buildAWSConfig builds the AWS configuration from the storage config
func buildAWSConfig(storageConfig config.StorageConfig) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	s3Config := storageConfig.S3

	if s3Config.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(s3Config.Region))
	}

	// Use static credentials if provided
	if s3Config.AccessKeyID != "" && s3Config.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				s3Config.AccessKeyID,
				s3Config.SecretAccessKey,
				"",
			),
		))
	}

	if storageConfig.MaxRetries > 0 {
		optFns = append(optFns, awsconfig.WithRetryMaxAttempts(storageConfig.MaxRetries))
	}

	// A buildable client lets the loader apply AWS_CA_BUNDLE.
	optFns = append(optFns, awsconfig.WithHTTPClient(
		awshttp.NewBuildableClient().WithTimeout(storageConfig.Timeout),
	))

	return awsconfig.LoadDefaultConfig(context.Background(), optFns...)
}

// isNotFoundError checks if an error is a not found error
func isNotFoundError(err error) bool {
	var nsk *s3types.NoSuchKey
	var nse *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nse)
}
