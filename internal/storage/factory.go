package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/diaryrag/internal/config"
	"github.com/hyperjump/diaryrag/internal/vector"
)

// Backend names accepted in store.backend and store.secondary.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
	BackendBlob     = "blob"
	BackendMemory   = "memory"
)

// OpenBackend opens a single backend by name.
func OpenBackend(ctx context.Context, name string, cfg config.StoreConfig, opts ...Option) (Store, error) {
	switch name {
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.Path, opts...)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, opts...)
	case BackendQdrant:
		timeout := time.Duration(cfg.Qdrant.TimeoutSeconds) * time.Second
		return NewQdrantStore(ctx, cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.Qdrant.APIKey, timeout, opts...)
	case BackendBlob:
		src, err := openBlobSource(cfg.Blob)
		if err != nil {
			return nil, err
		}
		return NewBlobStore(src, opts...), nil
	case BackendMemory:
		return NewMemoryStore(opts...), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: sqlite, postgres, qdrant, blob, memory)", name)
	}
}

func openBlobSource(cfg config.BlobConfig) (BlobSource, error) {
	if cfg.Dir != "" {
		return NewDirBlobSource(cfg.Dir)
	}
	if cfg.Path != "" {
		return NewSQLiteBlobSource(cfg.Path, cfg.Table)
	}
	return nil, errors.New("blob backend needs store.blob.dir or store.blob.path")
}

// Open builds the configured store: the primary backend, the optional
// secondary, the built-in dataset embedded with e, and the in-memory index
// when store.index is set.
func Open(ctx context.Context, cfg config.StoreConfig, dimensions int, e Embedder, opts ...Option) (Store, error) {
	opts = append(opts, WithDimensions(dimensions))

	primary, err := OpenBackend(ctx, cfg.Backend, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary store: %w", err)
	}

	var secondary Store
	if cfg.Secondary != "" {
		secondary, err = OpenBackend(ctx, cfg.Secondary, cfg, opts...)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("failed to open secondary store: %w", err)
		}
	}

	var builtin Store
	if e != nil {
		builtin = NewFallbackDataset(e)
	}

	var store Store = NewChain(primary, secondary, builtin, opts...)
	if cfg.Index != "" {
		index, err := vector.NewVectorIndex(cfg.Index, dimensions)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = NewIndexedStore(store, index, opts...)
	}
	return store, nil
}
