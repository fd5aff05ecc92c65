package sink

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/opendata-kr/g2b-collector/internal/fetcher"
)

const (
	fileHeader = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<contracts>\n"
	fileFooter = "</contracts>\n"
)

// FileSink appends raw provider items into one XML file per (category,
// year). It performs no deduplication; resuming a partially collected
// period can duplicate records, which the table sinks exist to avoid.
type FileSink struct {
	dir    string
	client *storage.Client // nil when archiving is disabled
	bucket string
}

// NewFileSink writes year files under dir. When archiveBucket is set, each
// touched year file is also uploaded to GCS after the append, mirroring the
// durable copy the collector keeps next to the checkpoint.
func NewFileSink(ctx context.Context, dir, archiveBucket string) (*FileSink, error) {
	if dir == "" {
		dir = "data"
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sink directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}

	s := &FileSink{dir: absDir}

	if archiveBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client for archive: %w", err)
		}
		if _, err := client.Bucket(archiveBucket).Attrs(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to access archive bucket %s: %w", archiveBucket, err)
		}
		s.client = client
		s.bucket = archiveBucket
	}

	log.Printf("FileSink initialized at %s", absDir)
	return s, nil
}

func (s *FileSink) filePath(category string, year int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d.xml", category, year))
}

// Persist appends the records' raw XML to the year file, creating the
// wrapping envelope on first write.
func (s *FileSink) Persist(ctx context.Context, category string, year int, records []fetcher.ContractRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var items strings.Builder
	for _, r := range records {
		items.WriteString("<item>")
		items.WriteString(r.Raw)
		items.WriteString("</item>\n")
	}

	path := s.filePath(category, year)

	existing, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		content := fileHeader + items.String() + fileFooter
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return 0, fmt.Errorf("failed to create year file %s: %w", path, err)
		}
	case err != nil:
		return 0, fmt.Errorf("failed to read year file %s: %w", path, err)
	default:
		body := strings.TrimSuffix(string(existing), fileFooter)
		content := body + items.String() + fileFooter
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return 0, fmt.Errorf("failed to append to year file %s: %w", path, err)
		}
	}

	if s.client != nil {
		if err := s.upload(ctx, path); err != nil {
			// Archive failures are recorded but never block collection;
			// the local file already holds the data.
			log.Printf("Archive upload failed for %s: %v", filepath.Base(path), err)
		}
	}

	return len(records), nil
}

func (s *FileSink) upload(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s for upload: %w", path, err)
	}

	obj := s.client.Bucket(s.bucket).Object(filepath.Base(path))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/xml"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write archive object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive object: %w", err)
	}

	log.Printf("Archived %s to gs://%s", filepath.Base(path), s.bucket)
	return nil
}

func (s *FileSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
