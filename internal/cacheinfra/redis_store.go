package cacheinfra

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a cache.Store shared between processes. Every tag is a
// Redis set holding the keys registered under it.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	tagTTL time.Duration
}

// NewRedisStore wraps client. Tag sets live for tagTTL, which must be at
// least the longest entry TTL so an entry never outlives its index.
func NewRedisStore(client redis.UniversalClient, prefix string, tagTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "crm:"
	}
	return &RedisStore{client: client, prefix: prefix, tagTTL: tagTTL}
}

func (s *RedisStore) entryKey(key string) string { return s.prefix + "e:" + key }
func (s *RedisStore) tagKey(tag string) string   { return s.prefix + "t:" + tag }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(key), value, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, s.tagKey(tag), key)
			pipe.Expire(ctx, s.tagKey(tag), s.tagTTL)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.entryKey(k)
	}
	return s.client.Del(ctx, full...).Err()
}

func (s *RedisStore) DeleteByTags(ctx context.Context, tags ...string) (int, error) {
	seen := make(map[string]struct{})
	var entries []string
	tagKeys := make([]string, 0, len(tags))

	for _, tag := range tags {
		tk := s.tagKey(tag)
		tagKeys = append(tagKeys, tk)
		members, err := s.client.SMembers(ctx, tk).Result()
		if err != nil {
			return 0, err
		}
		for _, m := range members {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			entries = append(entries, s.entryKey(m))
		}
	}

	var removed int64
	if len(entries) > 0 {
		n, err := s.client.Del(ctx, entries...).Result()
		if err != nil {
			return 0, err
		}
		removed = n
	}
	if err := s.client.Del(ctx, tagKeys...).Err(); err != nil {
		return int(removed), err
	}
	return int(removed), nil
}
