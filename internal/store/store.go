// Package store persists the process-wide state snapshot. The core treats
// persistence as load-at-boot plus opportunistic full-snapshot saves; every
// backend here implements exactly that contract with at-least-once
// durability.
package store

import (
	"context"
	"fmt"

	"github.com/dicelobby/backend/internal/config"
	"github.com/dicelobby/backend/internal/core"
)

// Store is the adapter the server talks to. Load returns a fresh empty
// state when no snapshot exists yet. Save replaces the durable copy.
type Store interface {
	Load(ctx context.Context) (*core.State, error)
	Save(ctx context.Context, state *core.State) error
	Close() error
}

// Open selects and initializes a backend from configuration.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case "file":
		return NewFileStore(cfg.DataDir, cfg.DataFile)
	case "badger":
		return NewBadgerStore(cfg.DataDir)
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), nil
	case "postgres":
		return NewPostgresStore(cfg.DatabaseURL)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
