package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizbattle/internal/model"
)

// BattleStateCache holds one RoomState record per active match, keyed by
// room code. Records carry a TTL so abandoned rooms self-clean even if the
// delete path is never reached.
type BattleStateCache interface {
	Get(ctx context.Context, code string) (*model.RoomState, error)
	Set(ctx context.Context, code string, state *model.RoomState) error
	Delete(ctx context.Context, code string) error
}

type battleStateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBattleStateCache creates a Redis-backed state cache.
func NewBattleStateCache(client *redis.Client, ttl time.Duration) BattleStateCache {
	return &battleStateCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *battleStateCache) key(code string) string {
	return fmt.Sprintf("battle:room:%s", code)
}

// Get returns nil, nil when no state exists for the code.
func (c *battleStateCache) Get(ctx context.Context, code string) (*model.RoomState, error) {
	data, err := c.client.Get(ctx, c.key(code)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state model.RoomState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *battleStateCache) Set(ctx context.Context, code string, state *model.RoomState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(code), data, c.ttl).Err()
}

func (c *battleStateCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}
