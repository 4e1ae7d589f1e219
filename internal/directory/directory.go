// Package directory maintains the contact-discovery index: a Redis hash
// from contact token to visibility flags.  An entry exists only while the
// corresponding account is active.
package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/account-service/internal/model"
)

// Key is the Redis hash holding every directory entry.
const Key = "directory"

// RedisIndex implements the discovery index on a Redis hash.
type RedisIndex struct {
	rdb redis.UniversalClient
}

func NewRedisIndex(rdb redis.UniversalClient) *RedisIndex { return &RedisIndex{rdb: rdb} }

// Add writes or replaces the entry for c.Token.
func (d *RedisIndex) Add(ctx context.Context, c model.ClientContact) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSerialization, err)
	}
	return d.rdb.HSet(ctx, Key, string(c.Token), b).Err()
}

// Remove deletes the entry derived from number.  Removing a missing entry
// is not an error.
func (d *RedisIndex) Remove(ctx context.Context, number string) error {
	return d.RemoveToken(ctx, model.ContactToken(number))
}

// RemoveToken deletes the entry for a token computed elsewhere.
func (d *RedisIndex) RemoveToken(ctx context.Context, token []byte) error {
	return d.rdb.HDel(ctx, Key, string(token)).Err()
}

// Get returns the entries present for the given tokens, in request order.
func (d *RedisIndex) Get(ctx context.Context, tokens [][]byte) ([]model.ClientContact, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	fields := make([]string, len(tokens))
	for i, t := range tokens {
		fields[i] = string(t)
	}
	vals, err := d.rdb.HMGet(ctx, Key, fields...).Result()
	if err != nil {
		return nil, err
	}
	var out []model.ClientContact
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var c model.ClientContact
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrSerialization, err)
		}
		c.Token = tokens[i]
		out = append(out, c)
	}
	return out, nil
}

// Contains reports whether an entry exists for number.
func (d *RedisIndex) Contains(ctx context.Context, number string) (bool, error) {
	return d.rdb.HExists(ctx, Key, string(model.ContactToken(number))).Result()
}
