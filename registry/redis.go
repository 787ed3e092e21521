package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares tokens across processes and survives restarts.
// First reads race through SETNX, so replicas always agree on one token.
// Optionally, a TTL can be applied to index keys to prevent unbounded growth;
// an expired index gets a new token, which behaves like a rotation.
type Redis struct {
	rdb      redis.UniversalClient
	ns       string        // optional key prefix
	ttl      time.Duration // 0 disables expiry
	newToken TokenFunc
}

var _ Registry = (*Redis)(nil)

// NewRedis creates a Redis-backed registry without TTL.
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{rdb: client, ns: namespace, newToken: NewToken}
}

// NewRedisWithTTL creates a Redis-backed registry with TTL.
// If ttl <= 0, keys do not expire.
func NewRedisWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	if ttl < 0 {
		ttl = 0
	}
	return &Redis{rdb: client, ns: namespace, ttl: ttl, newToken: NewToken}
}

// WithTokenFunc replaces the token generator (tests).
func (s *Redis) WithTokenFunc(f TokenFunc) *Redis {
	if f != nil {
		s.newToken = f
	}
	return s
}

func (s *Redis) key(index string) string {
	if s.ns == "" {
		return index
	}
	return s.ns + ":" + index
}

func (s *Redis) Token(ctx context.Context, index string) (string, error) {
	res, err := s.rdb.Get(ctx, s.key(index)).Result()
	if err == nil {
		return res, nil
	}
	if err != redis.Nil {
		return "", err
	}
	return s.create(ctx, index)
}

// Tokens reads all indexes with one MGET and creates only the missing ones.
func (s *Redis) Tokens(ctx context.Context, indexes []string) ([]string, error) {
	if len(indexes) == 0 {
		return []string{}, nil
	}
	keys := make([]string, len(indexes))
	for i, idx := range indexes {
		keys[i] = s.key(idx)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]string, len(indexes))
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
			t, err := s.create(ctx, indexes[i])
			if err != nil {
				return nil, err
			}
			out[i] = t
		case string:
			out[i] = vv
		case []byte:
			out[i] = string(vv)
		default:
			return nil, fmt.Errorf("redis token at %s: unexpected type %T", indexes[i], v)
		}
	}
	return out, nil
}

// create mints a token with SETNX and adopts the winner's when it loses.
// A winner that is gone before it can be read (expired or deleted) earns one
// more SETNX; create never returns a token it did not see stored.
func (s *Redis) create(ctx context.Context, index string) (string, error) {
	k := s.key(index)
	for attempt := 0; attempt < 2; attempt++ {
		t := s.newToken()
		won, err := s.rdb.SetNX(ctx, k, t, s.ttl).Result()
		if err != nil {
			return "", err
		}
		if won {
			return t, nil
		}
		res, err := s.rdb.Get(ctx, k).Result()
		if err != redis.Nil {
			return res, err
		}
	}
	return "", fmt.Errorf("redis token %s: %w", index, ErrTokenVanished)
}

// Rotate overwrites the token and refreshes the TTL in one SET.
func (s *Redis) Rotate(ctx context.Context, index string) (string, error) {
	t := s.newToken()
	if err := s.rdb.Set(ctx, s.key(index), t, s.ttl).Err(); err != nil {
		return "", err
	}
	return t, nil
}

// Close closes the underlying Redis client.
func (s *Redis) Close(context.Context) error { return s.rdb.Close() }
