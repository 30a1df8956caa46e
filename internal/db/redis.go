package db

import (
	"context"
	"fmt"

	"github.com/bohemiyan/moduleaccess/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient initializes and returns a Redis client. It returns nil, nil
// when redis is disabled so the module cache stays off.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.RedisEnabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
