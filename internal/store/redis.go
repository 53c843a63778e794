package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kingithegreat/AquaProject-sub000/internal/config"
)

// RedisStore is an alternative key-value backend for server-side
// deployments where local state lives in Redis instead of sqlite.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to put %q in redis: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q from redis: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to remove %q from redis: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
