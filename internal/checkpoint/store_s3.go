package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store keeps the checkpoint in a single S3 object. Credentials come from
// the standard AWS chain (env vars, shared config, instance role).
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	object   string
}

func NewS3Store(ctx context.Context, bucket, object, region string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("invalid configuration: missing checkpoint bucket")
	}
	if object == "" {
		object = "checkpoint.json"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithRetryMaxAttempts(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", bucket, err)
	}

	log.Printf("S3Store initialized for s3://%s/%s in %s", bucket, object, region)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		object:   object,
	}, nil
}

func (s *S3Store) Load(ctx context.Context) (*Checkpoint, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.object),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to get checkpoint object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint object: %w", err)
	}
	return Decode(data)
}

func (s *S3Store) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := cp.Encode()
	if err != nil {
		return err
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.object),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload checkpoint to s3://%s/%s: %w", s.bucket, s.object, err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }
