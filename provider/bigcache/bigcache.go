package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/bindcache/provider"
)

// Provider keeps entries in an in-process BigCache.
// BigCache has no per-entry TTL: every entry lives for the global LifeWindow.
// Expired generation tokens are minted again lazily, so a short window only
// shortens the lifetime of the keys derived from them.
type Provider struct {
	c  *bc.BigCache
	ex pr.Exclusive
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
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

func (p *Provider) Set(_ context.Context, key string, value []byte, _ pr.WriteOptions) (bool, error) {
	// per-entry TTL unsupported; uses global LifeWindow
	return true, p.c.Set(key, value)
}

func (p *Provider) Del(_ context.Context, key string) error {
	err := p.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}
