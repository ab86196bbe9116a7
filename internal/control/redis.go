package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cancelTTL bounds how long an unanswered cancel request lingers.
const cancelTTL = 24 * time.Hour

// Redis shares control state between processes through two keys:
// <prefix>:cancel and <prefix>:progress.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(addr, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisClient(client, prefix), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "mangacatalog:crawl"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) cancelKey() string   { return r.prefix + ":cancel" }
func (r *Redis) progressKey() string { return r.prefix + ":progress" }

func (r *Redis) CancelRequested(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, r.cancelKey()).Result()
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) RequestCancel(ctx context.Context) error {
	if err := r.client.Set(ctx, r.cancelKey(), "1", cancelTTL).Err(); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	return nil
}

func (r *Redis) ClearCancel(ctx context.Context) error {
	if err := r.client.Del(ctx, r.cancelKey()).Err(); err != nil {
		return fmt.Errorf("clear cancel flag: %w", err)
	}
	return nil
}

func (r *Redis) PublishProgress(ctx context.Context, p Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := r.client.Set(ctx, r.progressKey(), b, 0).Err(); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

func (r *Redis) Progress(ctx context.Context) (Progress, error) {
	raw, err := r.client.Get(ctx, r.progressKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Progress{State: StateIdle}, nil
	}
	if err != nil {
		return Progress{}, fmt.Errorf("read progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return Progress{}, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
