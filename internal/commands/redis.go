package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisMailbox keeps each site's slot under agent_command:<siteID> with a
// server-side TTL. GETDEL makes poll-and-clear atomic per key.
type RedisMailbox struct {
	client redis.UniversalClient
	opts   options
}

// NewRedisMailbox creates a mailbox backed by client.
func NewRedisMailbox(client redis.UniversalClient, opts ...Option) *RedisMailbox {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisMailbox{client: client, opts: o}
}

// NewRedisMailboxFromURL parses a redis:// URL and verifies the connection.
func NewRedisMailboxFromURL(ctx context.Context, url string, opts ...Option) (*RedisMailbox, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisMailbox(client, opts...), nil
}

// Enqueue stores cmd for siteID, replacing any pending command.
func (m *RedisMailbox) Enqueue(ctx context.Context, siteID int64, cmd models.PendingCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := m.client.Set(ctx, slotKey(siteID), data, m.opts.ttl).Err(); err != nil {
		return fmt.Errorf("enqueue command: %w", err)
	}
	return nil
}

// PollAndClear removes and returns the pending command for siteID.
func (m *RedisMailbox) PollAndClear(ctx context.Context, siteID int64) (*models.DeliveredCommand, error) {
	data, err := m.client.GetDel(ctx, slotKey(siteID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poll command: %w", err)
	}

	var cmd models.PendingCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return &models.DeliveredCommand{ID: m.opts.newID(), PendingCommand: cmd}, nil
}

// Peek returns the pending command for siteID without removing it.
func (m *RedisMailbox) Peek(ctx context.Context, siteID int64) (*models.PendingCommand, error) {
	data, err := m.client.Get(ctx, slotKey(siteID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek command: %w", err)
	}

	var cmd models.PendingCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return &cmd, nil
}

// Close releases the Redis connection.
func (m *RedisMailbox) Close() error {
	return m.client.Close()
}

// Ping checks the Redis connection.
func (m *RedisMailbox) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Client returns the underlying client so the rate limiter can share it.
func (m *RedisMailbox) Client() redis.UniversalClient {
	return m.client
}
