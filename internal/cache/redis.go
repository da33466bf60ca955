package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uma-arai/sbcntr-scheduler/internal/model"
)

// generationTTL は世代キーの最短の保持期間です
const generationTTL = 48 * time.Hour

// RedisAvailabilityCache はRedisに空き状況をJSONで保存します
// エントリのキーに日付の世代を含め、無効化では世代を進めてから古いキーを削除します
// 無効化より前に計算された値は古い世代のキーに書かれるため、読み出されることはありません
type RedisAvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
	genTTL time.Duration
}

func NewRedisAvailabilityCache(client *redis.Client, ttl time.Duration) *RedisAvailabilityCache {
	ttl = normalizeTTL(ttl)
	return &RedisAvailabilityCache{
		client: client,
		ttl:    ttl,
		genTTL: max(generationTTL, 2*ttl),
	}
}

func (c *RedisAvailabilityCache) generation(ctx context.Context, date time.Time) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get availability generation: %w", err)
	}
	return gen, nil
}

func (c *RedisAvailabilityCache) Get(ctx context.Context, date time.Time, scope model.Scope) (Lookup, error) {
	gen, err := c.generation(ctx, date)
	if err != nil {
		return Lookup{}, err
	}

	b, err := c.client.Get(ctx, entryKey(date, scope, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Lookup{Generation: gen}, nil
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("failed to get cached availability: %w", err)
	}

	var slots []model.SlotStatus
	if err := json.Unmarshal(b, &slots); err != nil {
		return Lookup{}, fmt.Errorf("failed to decode cached availability: %w", err)
	}
	return Lookup{Slots: slots, Hit: true, Generation: gen}, nil
}

func (c *RedisAvailabilityCache) Set(ctx context.Context, date time.Time, scope model.Scope, generation int64, slots []model.SlotStatus) error {
	b, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to encode availability: %w", err)
	}

	key, index := entryKey(date, scope, generation), dateKey(date)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, b, c.ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache availability: %w", err)
	}
	return nil
}

func (c *RedisAvailabilityCache) InvalidateDate(ctx context.Context, date time.Time) error {
	genKey := generationKey(date)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, c.genTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to advance availability generation: %w", err)
	}

	// 世代が進んだ時点で古いエントリは読まれないため、ここからは掃除のみ
	index := dateKey(date)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached availability keys: %w", err)
	}
	if err := c.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate availability: %w", err)
	}
	return nil
}
