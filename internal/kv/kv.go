// Package kv provides the durable key-value stores the share queue
// persists into. Values are opaque strings; the only durability guarantee
// required is surviving a process restart.
package kv

import (
	"context"
	"fmt"

	"shareq/internal/config"
	"shareq/internal/log"
)

type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open constructs the store selected by cfg.StorageBackend.
func Open(cfg *config.Config, logger *log.Logger) (Store, error) {
	switch cfg.StorageBackend {
	case "file":
		return NewFileStore(cfg.DataDir)
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword), nil
	case "postgres":
		return NewPGStore(cfg.DatabaseURL, logger)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
}
