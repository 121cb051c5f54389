// Package idempotency stores serialized payment responses keyed by a
// caller-supplied idempotency key, so a repeated marketplace payment call
// returns the prior result instead of charging twice.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means no response has been recorded under the key.
var ErrNotFound = errors.New("idempotency key not found")

const defaultTTL = 24 * time.Hour

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client, ttl: defaultTTL}
}

// Get returns the response previously stored under the key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Put records the response under the key unless one already exists. It
// returns the stored payload, which is the existing one when the key was
// already taken.
func (s *Store) Put(ctx context.Context, key string, payload []byte) ([]byte, error) {
	ok, err := s.client.SetNX(ctx, key, payload, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return payload, nil
	}
	return s.Get(ctx, key)
}
