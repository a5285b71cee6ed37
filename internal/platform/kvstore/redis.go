package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "storefront:kv:"

// RedisStore keeps each scope in one Redis hash so a scope can be listed and expired as a unit.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A ttl > 0 is applied to the scope hash on every write.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func scopeKey(scope string) string {
	return redisKeyPrefix + scope
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, scope, key string) ([]byte, error) {
	if err := validate(scope, key); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, scopeKey(scope), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: redis hget: %w", err)
	}
	return data, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, scope, key string, value []byte) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	hash := scopeKey(scope)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hash, key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, hash, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvstore: redis hset: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, scope, key string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, scopeKey(scope), key).Err(); err != nil {
		return fmt.Errorf("kvstore: redis hdel: %w", err)
	}
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, scope string) (map[string][]byte, error) {
	if err := validate(scope, "-"); err != nil {
		return nil, err
	}
	values, err := s.client.HGetAll(ctx, scopeKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: redis hgetall: %w", err)
	}
	out := make(map[string][]byte, len(values))
	for k, v := range values {
		out[k] = []byte(v)
	}
	return out, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
