package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/sma-gate-api/pkg/errors"
)

// CacheRepository wraps Redis for the gate's two cache concerns: schedule
// projection caching and the device online heartbeat.
type CacheRepository struct {
	client *redis.Client
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client) *CacheRepository {
	return &CacheRepository{client: client}
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// MarkDeviceOnline refreshes the device heartbeat key. The TTL lets a
// crashed reader fall offline without an explicit disconnect.
func (r *CacheRepository) MarkDeviceOnline(ctx context.Context, deviceID string, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	key := "gate:device:online:" + deviceID
	if err := r.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("redis mark device online: %w", err)
	}
	return nil
}

// MarkDeviceOffline drops the heartbeat key immediately.
func (r *CacheRepository) MarkDeviceOffline(ctx context.Context, deviceID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, "gate:device:online:"+deviceID).Err(); err != nil {
		return fmt.Errorf("redis mark device offline: %w", err)
	}
	return nil
}
