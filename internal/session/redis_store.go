package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed login store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "login:",
	}
}

func (r *RedisStore) key(clientID string) string {
	return r.prefix + clientID
}

func (r *RedisStore) Create(ctx context.Context, l Login) error {
	if l.ClientID == "" || l.UserID == "" {
		return fmt.Errorf("session: missing client_id or user_id")
	}

	ttl := time.Until(l.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session: expires_at must be in the future")
	}

	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(l.ClientID), data, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, clientID string) (*Login, error) {
	val, err := r.client.Get(ctx, r.key(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var l Login
	if err := json.Unmarshal([]byte(val), &l); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	return &l, nil
}

func (r *RedisStore) Delete(ctx context.Context, clientID string) error {
	return r.client.Del(ctx, r.key(clientID)).Err()
}
