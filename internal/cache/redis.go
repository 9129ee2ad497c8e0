// Package cache wraps the Redis client used by the working-memory layer:
// TTL'd JSON values plus a sorted-set index for insertion-ordered eviction.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/engramlabs/engram/internal/config"
)

// RedisClient is a thin wrapper over go-redis providing the primitives the
// working-memory layer needs.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *RedisClient {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisClient{client: rdb}
}

// NewRedisClientFromAddr creates a client for a bare address. Used by tests
// running against miniredis.
func NewRedisClientFromAddr(addr string) *RedisClient {
	return &RedisClient{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// SetJSON stores a JSON-encoded value under key with the given TTL.
func (r *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// GetJSON fetches and decodes a JSON value. It returns (false, nil) when the
// key does not exist.
func (r *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(data), dest)
}

// Delete removes one or more keys.
func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// IndexAdd records member in the sorted set at key with the given score.
func (r *RedisClient) IndexAdd(ctx context.Context, key, member string, score float64) error {
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// IndexRemove drops members from the sorted set at key.
func (r *RedisClient) IndexRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.ZRem(ctx, key, args...).Err()
}

// IndexOldest returns up to count members in ascending score order.
func (r *RedisClient) IndexOldest(ctx context.Context, key string, count int64) ([]string, error) {
	return r.client.ZRange(ctx, key, 0, count-1).Result()
}

// IndexNewest returns up to count members in descending score order.
func (r *RedisClient) IndexNewest(ctx context.Context, key string, count int64) ([]string, error) {
	return r.client.ZRevRange(ctx, key, 0, count-1).Result()
}

// IndexLen returns the cardinality of the sorted set at key.
func (r *RedisClient) IndexLen(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, key).Result()
}

// ScanKeys returns every key matching the glob pattern, using SCAN so large
// keyspaces are walked incrementally.
func (r *RedisClient) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Ping checks connectivity to the cache backend.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisClient) Close() error {
	return r.client.Close()
}
