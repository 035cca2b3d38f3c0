package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/dicelobby/backend/internal/core"
)

// PostgresStore keeps the snapshot as a single JSONB row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects and ensures the snapshot table exists.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS state_snapshots (
			id         INT PRIMARY KEY,
			version    INT NOT NULL,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (ps *PostgresStore) Load(ctx context.Context) (*core.State, error) {
	var data []byte
	err := ps.db.QueryRowContext(ctx,
		`SELECT data FROM state_snapshots WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return core.DecodeState(data)
}

func (ps *PostgresStore) Save(ctx context.Context, state *core.State) error {
	data, err := core.EncodeState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO state_snapshots (id, version, data, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = now()`,
		state.Version, data)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Close() error { return ps.db.Close() }
