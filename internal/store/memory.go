package store

import (
	"context"
	"sync"

	"github.com/dicelobby/backend/internal/core"
)

// MemoryStore holds the encoded snapshot in memory. Test and throwaway use.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (ms *MemoryStore) Load(_ context.Context) (*core.State, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.data == nil {
		return core.NewState(), nil
	}
	return core.DecodeState(ms.data)
}

func (ms *MemoryStore) Save(_ context.Context, state *core.State) error {
	data, err := core.EncodeState(state)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	ms.data = data
	ms.mu.Unlock()
	return nil
}

func (ms *MemoryStore) Close() error { return nil }
