package checkpoint

import (
	"context"
	"fmt"
	"log"
	"os"
)

// ErrNotExist is returned by Load when the remote slot has never been
// written. Callers may only fall back to a default checkpoint on this exact
// condition; any other load failure is fatal, because proceeding with a
// synthetic checkpoint would silently restart collection from scratch.
var ErrNotExist = fmt.Errorf("checkpoint does not exist")

// Store persists the single checkpoint slot. Save overwrites the whole
// document; there is no partial update and no optimistic concurrency, the
// deployment guarantees a single writer.
type Store interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Close() error
}

// StoreConfig selects and parameterizes a checkpoint backend.
type StoreConfig struct {
	Type   string // "FS", "GCS" or "S3"
	Bucket string
	Object string
	Region string // S3 only
	Path   string // FS only
}

// NewStore creates the appropriate checkpoint store for the config.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case "FS", "":
		return NewFSStore(cfg.Path)
	case "GCS":
		return NewGCSStore(ctx, cfg.Bucket, cfg.Object)
	case "S3":
		return NewS3Store(ctx, cfg.Bucket, cfg.Object, cfg.Region)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
}

// WriteBackup writes a last-resort local copy of the checkpoint. It is
// called on every termination path so that a failed remote save does not
// lose the run's progress entirely. Failures are logged, never propagated.
func WriteBackup(path string, cp *Checkpoint) {
	if path == "" || cp == nil {
		return
	}
	data, err := cp.Encode()
	if err != nil {
		log.Printf("Checkpoint backup skipped: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Printf("Checkpoint backup failed: %v", err)
		return
	}
	log.Printf("Checkpoint backup written to %s", path)
}
