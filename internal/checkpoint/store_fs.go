package checkpoint

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// FSStore keeps the checkpoint in a local file. Used for development and
// for deployments where the scheduler host owns durable storage.
type FSStore struct {
	path string
}

func NewFSStore(path string) (*FSStore, error) {
	if path == "" {
		path = "checkpoint.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve checkpoint path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	log.Printf("FSStore initialized at %s", absPath)
	return &FSStore{path: absPath}, nil
}

func (s *FSStore) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}
	return Decode(data)
}

// Save writes through a temp file and renames, so a crash mid-write never
// leaves a truncated checkpoint behind.
func (s *FSStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := cp.Encode()
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp.%d", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	return nil
}

func (s *FSStore) Close() error { return nil }
