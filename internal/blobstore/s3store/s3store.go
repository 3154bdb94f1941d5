// Package s3store stores blobs in an S3-compatible bucket.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/book-expert/picture-pipeline/internal/blobstore"
	"github.com/book-expert/picture-pipeline/internal/document"
)

const defaultRegion = "us-east-1"

// ErrBucketRequired is returned when no bucket is configured.
var ErrBucketRequired = errors.New("bucket name is required")

var _ document.BlobStore = (*Store)(nil)

// Config holds the S3 connection settings.
type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint is set for S3-compatible services such as MinIO.
	Endpoint     string
	UsePathStyle bool
}

// Store is an S3 blob store.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New loads AWS configuration and creates the S3 client.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, loadErr := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if loadErr != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", loadErr)
	}

	var s3Options []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Options = append(s3Options, func(options *s3.Options) {
			options.BaseEndpoint = aws.String(cfg.Endpoint)
			options.UsePathStyle = cfg.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// Put uploads the content under key.
func (store *Store) Put(ctx context.Context, key string, content io.Reader, mimeType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
		Body:   content,
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}

	_, uploadErr := store.uploader.Upload(ctx, input)
	if uploadErr != nil {
		return fmt.Errorf("failed to upload %s to bucket %s: %w", key, store.bucket, uploadErr)
	}

	return nil
}

// Open streams the object body.
func (store *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	output, getErr := store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if getErr != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(getErr, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}

		return nil, fmt.Errorf("failed to get %s from bucket %s: %w", key, store.bucket, getErr)
	}

	return output.Body, nil
}

// Delete removes the object.
func (store *Store) Delete(ctx context.Context, key string) error {
	_, deleteErr := store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if deleteErr != nil {
		return fmt.Errorf("failed to delete %s from bucket %s: %w", key, store.bucket, deleteErr)
	}

	return nil
}
