package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dicelobby/backend/internal/core"
)

var badgerSnapshotKey = []byte("state:snapshot")

// BadgerStore keeps the snapshot under a single key in an embedded badger
// database. Useful where the data dir sits on a volume that punishes
// whole-file rewrites.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database under dir/badger.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, "badger")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (bs *BadgerStore) Load(_ context.Context) (*core.State, error) {
	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerSnapshotKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger get snapshot: %w", err)
	}
	return core.DecodeState(data)
}

func (bs *BadgerStore) Save(_ context.Context, state *core.State) error {
	data, err := core.EncodeState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	err = bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerSnapshotKey, data)
	})
	if err != nil {
		return fmt.Errorf("badger set snapshot: %w", err)
	}
	return nil
}

func (bs *BadgerStore) Close() error { return bs.db.Close() }
