package ristretto

import (
	"context"
	"errors"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/bindcache/provider"
)

// Provider keeps entries in an in-process Ristretto cache.
// Ristretto may refuse admission; a refused generation token is simply minted again
// on the next read, which only costs a cache miss.
type Provider struct {
	c  *rc.Cache
	ex pr.Exclusive
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost in Ristretto is provided by the caller (WriteOptions.Cost, 1 when unset).
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) FetchOrCreate(ctx context.Context, key string, opts pr.WriteOptions, create pr.CreateFunc) ([]byte, bool, error) {
	return p.ex.Do(ctx, key,
		func(ctx context.Context) ([]byte, bool, error) { return p.Get(ctx, key) },
		func(ctx context.Context, b []byte) error {
			_, err := p.Set(ctx, key, b, opts)
			return err
		},
		create,
	)
}

// Set waits for Ristretto's write buffer so the value is visible to the next Get.
func (p *Provider) Set(_ context.Context, key string, value []byte, opts pr.WriteOptions) (bool, error) {
	cost := opts.Cost
	if cost <= 0 {
		cost = 1
	}
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	p.c.Wait()
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes Ristretto's counters (not part of provider.Provider).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
