package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokomitra/backend/internal/domain"
)

type RedisScheduleCache struct {
	client *redis.Client
}

func NewRedisScheduleCache(addr string, password string, db int) *RedisScheduleCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisScheduleCache{client: client}
}

func (c *RedisScheduleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisScheduleCache) Close() error {
	return c.client.Close()
}

func (c *RedisScheduleCache) Get(ctx context.Context, key string) ([]domain.CommissionTier, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var tiers []domain.CommissionTier
	if err := json.Unmarshal([]byte(val), &tiers); err != nil {
		return nil, false, err
	}
	return tiers, true, nil
}

func (c *RedisScheduleCache) Set(ctx context.Context, key string, tiers []domain.CommissionTier, ttl time.Duration) error {
	if tiers == nil {
		return nil
	}
	payload, err := json.Marshal(tiers)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisScheduleCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
