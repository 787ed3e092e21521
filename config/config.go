// Package config builds bindcache options from a YAML file.
//
//	namespace: app:prod
//	identity: [id, uuid]
//	default_ttl: 5m
//	max_ttl: 1h
//	context:
//	  providers: [caller, path, query]
//	  caller_class: User
//	provider:
//	  type: redis
//	  redis:
//	    addr: ${REDIS_ADDR}
//	registry:
//	  type: store
//	  index_ttl: 24h
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.yaml.in/yaml/v3"

	"github.com/unkn0wn-root/bindcache"
	pr "github.com/unkn0wn-root/bindcache/provider"
	"github.com/unkn0wn-root/bindcache/provider/bigcache"
	"github.com/unkn0wn-root/bindcache/provider/otter"
	rp "github.com/unkn0wn-root/bindcache/provider/redis"
	"github.com/unkn0wn-root/bindcache/provider/ristretto"
	reg "github.com/unkn0wn-root/bindcache/registry"
)

// Config is the top-level configuration.
type Config struct {
	Namespace  string         `yaml:"namespace"`
	Disabled   bool           `yaml:"disabled"`
	Identity   []string       `yaml:"identity"`
	DefaultTTL time.Duration  `yaml:"default_ttl"`
	MaxTTL     time.Duration  `yaml:"max_ttl"`
	Context    ContextConfig  `yaml:"context"`
	Provider   ProviderConfig `yaml:"provider"`
	Registry   RegistryConfig `yaml:"registry"`
}

// ContextConfig selects the context providers, in order.
// A nil Providers list keeps the defaults; an empty one disables them.
type ContextConfig struct {
	Providers   []string `yaml:"providers"` // caller, path, query
	CallerClass string   `yaml:"caller_class"`
}

// ProviderConfig selects and configures the backing store.
type ProviderConfig struct {
	Type      string          `yaml:"type"` // otter (default), ristretto, bigcache, redis
	Otter     OtterConfig     `yaml:"otter"`
	Ristretto RistrettoConfig `yaml:"ristretto"`
	BigCache  BigCacheConfig  `yaml:"bigcache"`
	Redis     RedisConfig     `yaml:"redis"`
}

type OtterConfig struct {
	MaxSize int           `yaml:"max_size"`
	MaxTTL  time.Duration `yaml:"max_ttl"`
}

type RistrettoConfig struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
	Metrics     bool  `yaml:"metrics"`
}

type BigCacheConfig struct {
	LifeWindow         time.Duration `yaml:"life_window"`
	CleanWindow        time.Duration `yaml:"clean_window"`
	MaxEntriesInWindow int           `yaml:"max_entries_in_window"`
	MaxEntrySize       int           `yaml:"max_entry_size"`
	HardMaxCacheSizeMB int           `yaml:"hard_max_cache_size_mb"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RegistryConfig selects where generation tokens live.
type RegistryConfig struct {
	Type            string        `yaml:"type"` // store (default), local, redis
	IndexTTL        time.Duration `yaml:"index_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // local only
	Retention       time.Duration `yaml:"retention"`        // local only
	Namespace       string        `yaml:"namespace"`        // redis only
	Redis           RedisConfig   `yaml:"redis"`            // redis only; defaults to provider.redis
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config data, expanding environment variables.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Provider: ProviderConfig{
			Type:  "otter",
			Otter: OtterConfig{MaxSize: 10_000},
			Ristretto: RistrettoConfig{
				NumCounters: 1e6,
				MaxCost:     64 << 20,
				BufferItems: 64,
			},
			BigCache: BigCacheConfig{LifeWindow: 10 * time.Minute},
			Redis:    RedisConfig{Addr: "localhost:6379"},
		},
		Registry: RegistryConfig{Type: "store"},
	}
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider.Type {
	case "otter", "ristretto", "bigcache", "redis":
	default:
		return fmt.Errorf("config: unknown provider type %q", c.Provider.Type)
	}
	switch c.Registry.Type {
	case "store", "local", "redis":
	default:
		return fmt.Errorf("config: unknown registry type %q", c.Registry.Type)
	}
	for _, name := range c.Context.Providers {
		switch name {
		case "caller", "path", "query":
		default:
			return fmt.Errorf("config: unknown context provider %q", name)
		}
	}
	if c.DefaultTTL < 0 || c.MaxTTL < 0 || c.Registry.IndexTTL < 0 {
		return fmt.Errorf("config: negative ttl")
	}
	if c.MaxTTL > 0 && c.DefaultTTL > c.MaxTTL {
		return fmt.Errorf("config: default_ttl %s exceeds max_ttl %s", c.DefaultTTL, c.MaxTTL)
	}
	return nil
}

// NewProvider builds the configured store. The caller owns it.
func (c *Config) NewProvider() (pr.Provider, error) {
	switch c.Provider.Type {
	case "ristretto":
		r := c.Provider.Ristretto
		return ristretto.New(ristretto.Config{
			NumCounters: r.NumCounters,
			MaxCost:     r.MaxCost,
			BufferItems: r.BufferItems,
			Metrics:     r.Metrics,
		})
	case "bigcache":
		b := c.Provider.BigCache
		return bigcache.New(bigcache.Config{
			LifeWindow:         b.LifeWindow,
			CleanWindow:        b.CleanWindow,
			MaxEntriesInWindow: b.MaxEntriesInWindow,
			MaxEntrySize:       b.MaxEntrySize,
			HardMaxCacheSizeMB: b.HardMaxCacheSizeMB,
		})
	case "redis":
		return rp.New(rp.Config{Client: newRedisClient(c.Provider.Redis), CloseClient: true})
	default:
		return otter.New(otter.Config{MaxSize: c.Provider.Otter.MaxSize, MaxTTL: c.Provider.Otter.MaxTTL})
	}
}

// NewRegistry builds the configured registry. It returns nil for "store",
// which lets the cache keep tokens in its own provider.
func (c *Config) NewRegistry() reg.Registry {
	r := c.Registry
	switch r.Type {
	case "local":
		return reg.NewLocal(nil, r.CleanupInterval, r.Retention)
	case "redis":
		rc := r.Redis
		if rc.Addr == "" {
			rc = c.Provider.Redis
		}
		return reg.NewRedisWithTTL(newRedisClient(rc), r.Namespace, r.IndexTTL)
	default:
		return nil
	}
}

// ContextProviders returns nil when none are configured, keeping the defaults.
func (c *Config) ContextProviders() []bindcache.ContextProvider {
	if c.Context.Providers == nil {
		if c.Context.CallerClass == "" {
			return nil
		}
		return []bindcache.ContextProvider{
			bindcache.CallerProvider{Class: c.Context.CallerClass},
			bindcache.PathProvider{},
			bindcache.QueryProvider{},
		}
	}
	out := make([]bindcache.ContextProvider, 0, len(c.Context.Providers))
	for _, name := range c.Context.Providers {
		switch name {
		case "caller":
			out = append(out, bindcache.CallerProvider{Class: c.Context.CallerClass})
		case "path":
			out = append(out, bindcache.PathProvider{})
		case "query":
			out = append(out, bindcache.QueryProvider{})
		}
	}
	return out
}

// OptionProviders turns default_ttl and max_ttl into write option providers.
func (c *Config) OptionProviders() []bindcache.OptionProvider {
	var out []bindcache.OptionProvider
	if c.DefaultTTL > 0 {
		out = append(out, bindcache.DefaultTTL(c.DefaultTTL))
	}
	if c.MaxTTL > 0 {
		out = append(out, bindcache.MaxTTL(c.MaxTTL))
	}
	return out
}

// Apply fills the fields of opts that cfg controls. A Provider already set on
// opts is kept; otherwise one is built from cfg.
func Apply[V any](cfg *Config, opts *bindcache.Options[V]) error {
	if opts.Provider == nil {
		p, err := cfg.NewProvider()
		if err != nil {
			return fmt.Errorf("config: build provider: %w", err)
		}
		opts.Provider = p
	}
	if opts.Registry == nil {
		opts.Registry = cfg.NewRegistry()
	}
	opts.Namespace = cfg.Namespace
	opts.Disabled = cfg.Disabled
	if len(cfg.Identity) > 0 {
		opts.Identity = bindcache.Identity(cfg.Identity)
	}
	if cfg.Registry.Type == "store" {
		opts.IndexTTL = cfg.Registry.IndexTTL
	}
	if cp := cfg.ContextProviders(); cp != nil {
		opts.ContextProviders = cp
	}
	opts.OptionProviders = append(cfg.OptionProviders(), opts.OptionProviders...)
	return nil
}

func newRedisClient(rc RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
}
