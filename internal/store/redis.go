package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dicelobby/backend/internal/core"
)

const redisSnapshotKey = "dice:state:snapshot"

// RedisStore keeps the snapshot under a single Redis key with no TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds the client; connectivity is verified lazily on the
// first Load so boot ordering with the Redis container stays forgiving.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (rs *RedisStore) Load(ctx context.Context) (*core.State, error) {
	data, err := rs.client.Get(ctx, redisSnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET snapshot: %w", err)
	}
	return core.DecodeState(data)
}

func (rs *RedisStore) Save(ctx context.Context, state *core.State) error {
	data, err := core.EncodeState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := rs.client.Set(ctx, redisSnapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET snapshot: %w", err)
	}
	return nil
}

func (rs *RedisStore) Close() error { return rs.client.Close() }
