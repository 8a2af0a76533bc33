package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/trogers1052/bot-copy-service/internal/config"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// Client wraps the Redis client with bot metrics caching
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis client
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func metricsKey(botID uuid.UUID) string {
	return fmt.Sprintf("bot:%s:metrics", botID)
}

// GetBotMetrics returns the cached snapshot, or nil when none is cached
func (c *Client) GetBotMetrics(ctx context.Context, botID uuid.UUID) (*models.BotMetrics, error) {
	data, err := c.rdb.Get(ctx, metricsKey(botID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", metricsKey(botID), err)
	}

	var m models.BotMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bot metrics: %w", err)
	}
	return &m, nil
}

// SetBotMetrics caches a snapshot with TTL
func (c *Client) SetBotMetrics(ctx context.Context, m *models.BotMetrics, ttl time.Duration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal bot metrics: %w", err)
	}
	return c.rdb.Set(ctx, metricsKey(m.BotID), data, ttl).Err()
}

// InvalidateBotMetrics drops the cached snapshot of a bot
func (c *Client) InvalidateBotMetrics(ctx context.Context, botID uuid.UUID) error {
	return c.rdb.Del(ctx, metricsKey(botID)).Err()
}
