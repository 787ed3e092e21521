package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/bindcache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// Redis stores entries in a shared Redis keyspace.
//
// FetchOrCreate resolves racing misses with SETNX: every caller ends up with the
// value that won, but create may run once per racing process (dogpile).
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) FetchOrCreate(ctx context.Context, key string, opts pr.WriteOptions, create pr.CreateFunc) ([]byte, bool, error) {
	if b, ok, err := p.Get(ctx, key); err != nil || ok {
		return b, false, err
	}
	v, err := create(ctx)
	if err != nil {
		return nil, false, err
	}
	won, err := p.rdb.SetNX(ctx, key, v, expiry(opts)).Result()
	if err != nil {
		return nil, false, err
	}
	if won {
		return v, true, nil
	}
	// lost the race; adopt the stored value
	b, ok, err := p.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// winner already expired or was deleted; ours is as good as any
		return v, false, nil
	}
	return b, false, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, opts pr.WriteOptions) (bool, error) {
	if err := p.rdb.Set(ctx, key, value, expiry(opts)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// non-positive TTLs mean "no expiry" per provider contract
func expiry(opts pr.WriteOptions) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	return 0
}
