// Package storage provides the blob stores behind the file drop: a MinIO
// client for self-hosted deployments, an AWS S3 client, and a circuit
// breaker guard that wraps either.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"file-drop/internal/drop"
)

// Config selects and configures a blob store.
type Config struct {
	Backend   string // "minio" or "s3"
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Store is a blob store that can report its health.
type Store interface {
	drop.BlobStore
	Ping(ctx context.Context) error
}

// New builds the configured store and wraps it in a Breaker.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Breaker, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, &drop.ConfigError{Field: "bucket"}
	}

	var (
		inner Store
		err   error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", "minio":
		inner, err = NewMinio(ctx, cfg)
	case "s3":
		inner, err = NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewBreaker(inner, cfg.BreakerFailures, cfg.BreakerTimeout, logger), nil
}
