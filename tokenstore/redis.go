// Package tokenstore provides revocation-store backends for the gateway:
// a Redis-backed store for deployments and an in-memory store for
// development and tests.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis records revoked tokens in a Redis instance. Entries carry no TTL;
// the store is the durable source of truth for dead tokens.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings the instance before returning the store.
func NewRedis(opts *redis.Options) (*Redis, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to revocation store: %w", err)
	}

	return &Redis{client: client}, nil
}

// IsRevoked returns the revocation timestamp recorded for the token.
func (s *Redis) IsRevoked(ctx context.Context, token string) (string, bool, error) {
	value, err := s.client.Get(ctx, token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Revoke stores the token with its revocation timestamp, no expiry.
func (s *Redis) Revoke(ctx context.Context, token, timestamp string) error {
	return s.client.Set(ctx, token, timestamp, 0).Err()
}

// Close releases the underlying client.
func (s *Redis) Close() error {
	return s.client.Close()
}
