// Package otter is an in-process provider backed by otter's W-TinyLFU cache.
// Its loader deduplicates concurrent misses natively, so FetchOrCreate runs
// create at most once per key at a time.
package otter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	pr "github.com/unkn0wn-root/bindcache/provider"
)

// entry wraps a stored value with its own expiration (zero => none).
type entry struct {
	data      []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type Provider struct {
	cache *otter.Cache[string, entry]
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	MaxSize int           // max entry count; 0 => 10_000
	MaxTTL  time.Duration // upper bound on any entry's lifetime; 0 => unbounded
}

func New(cfg Config) (*Provider, error) {
	size := cfg.MaxSize
	if size <= 0 {
		size = 10_000
	}
	opts := &otter.Options[string, entry]{MaximumSize: size}
	if cfg.MaxTTL > 0 {
		opts.ExpiryCalculator = otter.ExpiryWriting[string, entry](cfg.MaxTTL)
	}
	c, err := otter.New[string, entry](opts)
	if err != nil {
		return nil, fmt.Errorf("create otter cache: %w", err)
	}
	return &Provider{cache: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := p.cache.GetIfPresent(key)
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		p.cache.Invalidate(key)
		return nil, false, nil
	}
	return e.data, true, nil
}

func (p *Provider) FetchOrCreate(ctx context.Context, key string, opts pr.WriteOptions, create pr.CreateFunc) ([]byte, bool, error) {
	if e, ok := p.cache.GetIfPresent(key); ok && e.expired(time.Now()) {
		p.cache.Invalidate(key)
	}
	created := false
	e, err := p.cache.Get(ctx, key, otter.LoaderFunc[string, entry](func(ctx context.Context, _ string) (entry, error) {
		b, err := create(ctx)
		if err != nil {
			return entry{}, err
		}
		created = true
		return newEntry(b, opts), nil
	}))
	if err != nil {
		if errors.Is(err, otter.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return e.data, created, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, opts pr.WriteOptions) (bool, error) {
	p.cache.Set(key, newEntry(value, opts))
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.cache.Invalidate(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.cache.InvalidateAll()
	return nil
}

func newEntry(b []byte, opts pr.WriteOptions) entry {
	e := entry{data: b}
	if opts.TTL > 0 {
		e.expiresAt = time.Now().Add(opts.TTL)
	}
	return e
}
