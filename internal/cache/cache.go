// Package cache holds the read cache for account documents.
//
// Keys are "Account" + Version + number.  Version is part of the key
// namespace on purpose: bumping it makes every previously written entry
// unreachable, which is the only invalidation the cache ever needs.
// Entries carry no expiry; they are refreshed by write-through on every
// create and update and populated lazily on a read miss.
package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// EntityName prefixes every account key.
const EntityName = "Account"

// Version is the schema version baked into the key namespace.  Bump it
// whenever the serialized account document changes incompatibly.
const Version = "5"

// Key builds the cache key for number under the current version.
func Key(number string) string {
	return KeyFor(Version, number)
}

// KeyFor builds the cache key for number under an explicit version.
func KeyFor(version, number string) string {
	return EntityName + version + number
}

// RedisCache stores serialized account documents in Redis.  Reads and
// writes can go to different clients (replica and primary); both may be
// the same client.
type RedisCache struct {
	read  redis.UniversalClient
	write redis.UniversalClient
}

// NewRedisCache returns a cache that reads from read and writes to write.
// A nil read client falls back to write.
func NewRedisCache(read, write redis.UniversalClient) *RedisCache {
	if read == nil {
		read = write
	}
	return &RedisCache{read: read, write: write}
}

// Get returns the raw value under key; ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	b, err := c.read.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Delete removes key.  A missing key is not an error.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.write.Del(ctx, key).Err()
}

// Set stores value under key without expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	return c.write.Set(ctx, key, value, 0).Err()
}
