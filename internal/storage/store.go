// Package storage keeps generated certificate artifacts addressable by a stable key.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/adamscao/certguard/internal/config"
)

var (
	ErrNotFound   = errors.New("storage: artifact not found")
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Store is durable byte storage for certificate artifacts
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// New builds the store selected by cfg.Backend
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.StorageBackendLocal:
		return NewLocal(cfg.Local.Dir)
	case config.StorageBackendS3:
		s, err := NewS3(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
