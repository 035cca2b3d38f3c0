package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/dicelobby/backend/internal/core"
)

// FileStore keeps the snapshot as a single JSON document on disk. Writes go
// through renameio so a crash mid-save can never leave a torn file behind.
type FileStore struct {
	path string
}

// NewFileStore creates the data directory if needed and returns the store.
func NewFileStore(dir, file string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, file)}, nil
}

// Load reads the snapshot. A missing file means a fresh deployment and
// yields an empty state.
func (fs *FileStore) Load(_ context.Context) (*core.State, error) {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return core.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return core.DecodeState(data)
}

// Save atomically replaces the snapshot file.
func (fs *FileStore) Save(_ context.Context, state *core.State) error {
	data, err := core.EncodeState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := renameio.WriteFile(fs.path, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (fs *FileStore) Close() error { return nil }
