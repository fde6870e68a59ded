package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/redis/go-redis/v9"
)

const activeTiersKey = "tiers:active"

// TierCache keeps the public tier catalog in Redis.
type TierCache interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context) (tiers []model.Tier, ok bool, err error)
	Set(ctx context.Context, tiers []model.Tier, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type redisTierCache struct {
	rdb *redis.Client
}

func NewRedisTierCache(rdb *redis.Client) TierCache {
	return &redisTierCache{rdb: rdb}
}

func (c *redisTierCache) Get(ctx context.Context) ([]model.Tier, bool, error) {
	raw, err := c.rdb.Get(ctx, activeTiersKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var tiers []model.Tier
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, false, err
	}
	return tiers, true, nil
}

func (c *redisTierCache) Set(ctx context.Context, tiers []model.Tier, ttl time.Duration) error {
	raw, err := json.Marshal(tiers)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, activeTiersKey, raw, ttl).Err()
}

func (c *redisTierCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, activeTiersKey).Err()
}
