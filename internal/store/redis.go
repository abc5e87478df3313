// Package store persists cart snapshots in redis, keyed by the opaque cart
// instance id. It is the session-like collaborator of the pricing engine:
// load before a mutation, save after, clear on destroy.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keranjang-dev/keranjang/internal/pricing"
)

const defaultPrefix = "cart:"

// Redis stores cart snapshots as JSON payloads with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs the store. A non-positive ttl keeps snapshots forever.
func NewRedis(client *redis.Client, ttl time.Duration, prefix string) *Redis {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, ttl: ttl, prefix: prefix}
}

func (s *Redis) key(instanceID string) string {
	return s.prefix + instanceID
}

// Load fetches the snapshot for the instance. Returns (nil, nil) when no
// cart is persisted under the key.
func (s *Redis) Load(ctx context.Context, instanceID string) (*pricing.Snapshot, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("store: redis client not configured")
	}
	if strings.TrimSpace(instanceID) == "" {
		return nil, errors.New("store: instance id is required")
	}
	data, err := s.client.Get(ctx, s.key(instanceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load cart: %w", err)
	}
	var snap pricing.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: decode cart: %w", err)
	}
	return &snap, nil
}

// Save writes the snapshot, refreshing the TTL.
func (s *Redis) Save(ctx context.Context, instanceID string, snap pricing.Snapshot) error {
	if s == nil || s.client == nil {
		return errors.New("store: redis client not configured")
	}
	if strings.TrimSpace(instanceID) == "" {
		return errors.New("store: instance id is required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode cart: %w", err)
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(instanceID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store: save cart: %w", err)
	}
	return nil
}

// Clear removes the persisted snapshot. Clearing a missing key is not an
// error: the outcome is the same.
func (s *Redis) Clear(ctx context.Context, instanceID string) error {
	if s == nil || s.client == nil {
		return errors.New("store: redis client not configured")
	}
	if strings.TrimSpace(instanceID) == "" {
		return errors.New("store: instance id is required")
	}
	if err := s.client.Del(ctx, s.key(instanceID)).Err(); err != nil {
		return fmt.Errorf("store: clear cart: %w", err)
	}
	return nil
}
