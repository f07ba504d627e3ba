package config

import (
	"context"
	"fmt"

	"github.com/marmos91/shuttle/pkg/store/blob"
	"github.com/marmos91/shuttle/pkg/store/blob/local"
	s3blob "github.com/marmos91/shuttle/pkg/store/blob/s3"
	"github.com/marmos91/shuttle/pkg/store/metadata"
)

// CreateMetadataStore opens the configured metadata database and runs
// migrations. m may be nil to disable latency instrumentation.
func CreateMetadataStore(cfg *Config, m metadata.Metrics) (metadata.Store, error) {
	store, err := metadata.New(&cfg.Database, m)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s metadata store: %w", cfg.Database.Driver, err)
	}
	return store, nil
}

// CreateBlobStore builds the configured chunk storage backend. m may be
// nil to disable latency instrumentation.
func CreateBlobStore(ctx context.Context, cfg *Config, m blob.Metrics) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case blob.BackendLocal:
		return local.New(cfg.Storage, m)
	case blob.BackendS3, blob.BackendR2:
		return s3blob.New(ctx, cfg.Storage, m)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}
