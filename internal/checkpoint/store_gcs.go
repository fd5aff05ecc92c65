package checkpoint

import (
	"context"
	"fmt"
	"io"
	"log"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps the checkpoint in a single Google Cloud Storage object.
type GCSStore struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSStore creates the store using application-default credentials, or
// an explicit service-account file when credentialsFile entries are set via
// GOOGLE_APPLICATION_CREDENTIALS. The bucket must already exist; its
// attributes are checked up front so an unreachable bucket fails the run at
// startup instead of mid-collection.
func NewGCSStore(ctx context.Context, bucket, object string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("invalid configuration: missing checkpoint bucket")
	}
	if object == "" {
		object = "checkpoint.json"
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to access bucket %s: %w", bucket, err)
	}

	log.Printf("GCSStore initialized for gs://%s/%s", bucket, object)
	return &GCSStore{client: client, bucket: bucket, object: object}, nil
}

func (s *GCSStore) Load(ctx context.Context) (*Checkpoint, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint object: %w", err)
	}
	return Decode(data)
}

func (s *GCSStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := cp.Encode()
	if err != nil {
		return err
	}

	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, max-age=0"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write checkpoint object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize checkpoint object: %w", err)
	}
	return nil
}

func (s *GCSStore) Close() error { return s.client.Close() }
