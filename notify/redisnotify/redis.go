// Package redisnotify publishes run-completion events to a Redis pub/sub
// channel.
package redisnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/justapithecus/cascadewatch/notify"
)

// DefaultChannel is the channel run-completion events publish to when no
// channel is configured.
const DefaultChannel = "cascadewatch:run_completed"

// Config controls Redis pub/sub delivery.
type Config struct {
	Addr    string
	Channel string
	Retries int
}

// Adapter publishes RunCompletedEvent payloads to a Redis channel.
type Adapter struct {
	config Config
	client *redis.Client
}

// New creates a Redis-backed Adapter.
func New(config Config) *Adapter {
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	return &Adapter{
		config: config,
		client: redis.NewClient(&redis.Options{Addr: config.Addr}),
	}
}

// Publish delivers event to the configured Redis channel, retrying
// transient failures with exponential backoff.
func (a *Adapter) Publish(ctx context.Context, event *notify.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redisnotify: marshal event: %w", err)
	}

	attempts := 1 + a.config.Retries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redisnotify: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		lastErr = a.client.Publish(ctx, a.config.Channel, body).Err()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redisnotify: all attempts failed: %w", lastErr)
}

// Close releases the underlying Redis client.
func (a *Adapter) Close() error { return a.client.Close() }
