package registry

import (
	"context"
	"time"

	pr "github.com/unkn0wn-root/bindcache/provider"
)

// Store keeps tokens in a provider.Provider, typically the one holding cached
// values. Lazy creation goes through the provider's atomic FetchOrCreate;
// rotation is a plain Set.
type Store struct {
	p        pr.Provider
	newToken TokenFunc
	ttl      time.Duration
}

var _ Registry = (*Store)(nil)

// NewStore creates a provider-backed registry. newToken nil => NewToken.
// ttl <= 0 keeps tokens until the store evicts them.
func NewStore(p pr.Provider, newToken TokenFunc, ttl time.Duration) *Store {
	if newToken == nil {
		newToken = NewToken
	}
	return &Store{p: p, newToken: newToken, ttl: ttl}
}

func (s *Store) Token(ctx context.Context, index string) (string, error) {
	b, _, err := s.p.FetchOrCreate(ctx, index, pr.WriteOptions{TTL: s.ttl}, func(context.Context) ([]byte, error) {
		return []byte(s.newToken()), nil
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) Tokens(ctx context.Context, indexes []string) ([]string, error) {
	out := make([]string, len(indexes))
	for i, idx := range indexes {
		t, err := s.Token(ctx, idx)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (s *Store) Rotate(ctx context.Context, index string) (string, error) {
	t := s.newToken()
	if _, err := s.p.Set(ctx, index, []byte(t), pr.WriteOptions{TTL: s.ttl}); err != nil {
		return "", err
	}
	return t, nil
}

// Close is a no-op; the provider is owned by the caller.
func (s *Store) Close(context.Context) error { return nil }
