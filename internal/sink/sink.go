package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/guregu/null"

	"github.com/opendata-kr/g2b-collector/internal/fetcher"
)

// Sink persists a period's records and reports how many were newly stored.
// Table-backed sinks deduplicate on the natural key and return the actual
// insert count; the file sink is append-only and returns everything it wrote.
type Sink interface {
	Persist(ctx context.Context, category string, year int, records []fetcher.ContractRecord) (int, error)
	Close() error
}

// Config selects and parameterizes a sink backend.
type Config struct {
	Type string // "file", "postgres", "sqlite" or "mongodb"

	// file sink
	Dir           string
	ArchiveBucket string // optional GCS bucket for year-file uploads

	// postgres sink
	PostgresDSN string

	// sqlite sink
	SQLitePath string

	// mongodb sink
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// New creates the sink named by cfg.Type.
func New(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Type {
	case "file", "":
		return NewFileSink(ctx, cfg.Dir, cfg.ArchiveBucket)
	case "postgres":
		return NewPostgresSink(cfg.PostgresDSN)
	case "sqlite":
		return NewSQLiteSink(cfg.SQLitePath)
	case "mongodb":
		return NewMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, fmt.Errorf("unsupported sink type: %s", cfg.Type)
	}
}

// withKey drops records that are missing the natural unique key. Rows
// without a key cannot be deduplicated and are never persisted to a table.
func withKey(records []fetcher.ContractRecord) []fetcher.ContractRecord {
	kept := make([]fetcher.ContractRecord, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.UniqueContractNo) != "" {
			kept = append(kept, r)
		}
	}
	return kept
}

// nullInt converts the provider's amount strings, which are sometimes
// blank, into a nullable integer column value.
func nullInt(s string) null.Int {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Int{}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return null.Int{}
	}
	return null.IntFrom(v)
}

// nullString maps blank provider fields to NULL.
func nullString(s string) null.String {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.String{}
	}
	return null.StringFrom(s)
}
