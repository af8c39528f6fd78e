// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultChannel is the pub/sub channel events are published to when the
// configuration does not name one
const DefaultChannel = "codecompanion.events"

// RedisNotifier publishes events to a Redis pub/sub channel
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// RedisConfig holds connection options for the Redis notifier
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedisNotifier connects to Redis and returns a notifier publishing
// to the configured channel
func NewRedisNotifier(ctx context.Context, cfg RedisConfig) (*RedisNotifier, error) {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", cfg.Addr, err)
	}

	n := &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  log.New(os.Stdout, "[EVENTS_REDIS] ", log.LstdFlags),
	}
	n.logger.Printf("Connected to Redis: %s (channel=%s)", cfg.Addr, channel)
	return n, nil
}

// Notify publishes the event as JSON. Publish failures are returned to
// the caller but are safe to ignore; event delivery is best-effort.
func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (n *RedisNotifier) Close() error {
	if n.client == nil {
		return nil
	}
	return n.client.Close()
}

// Channel returns the pub/sub channel this notifier publishes to
func (n *RedisNotifier) Channel() string {
	return n.channel
}
