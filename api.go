package bindcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/bindcache/codec"
	pr "github.com/unkn0wn-root/bindcache/provider"
	reg "github.com/unkn0wn-root/bindcache/registry"
)

// ComputeFunc produces the value for a cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Cache is the high-level API. V is the caller's value type; serialization is
// handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Fetch returns the cached value for (spec, req) or runs compute on a miss.
	// Empty results (nil or false, see Options.IsEmpty) are returned but never cached.
	Fetch(ctx context.Context, spec Spec, req Request, compute ComputeFunc[V]) (V, error)

	// Key returns the storage key Fetch would use for (spec, req).
	Key(ctx context.Context, spec Spec, req Request) (string, error)

	// Metadata returns the etag/last-modified pair recorded by the last compute
	// for (spec, req), or a fresh default when none is recorded.
	Metadata(ctx context.Context, spec Spec, req Request) (Metadata, error)

	// Invalidate rotates the generation token of class, or of one object of class.
	// target: nil (class-wide), a Selector / map[string]any, or a scalar value of the
	// first identity field; arrays and Specs fail with ErrMalformedBinding.
	// Object-scoped invalidation also rotates the class-wide token, so list views
	// of the class are invalidated too.
	Invalidate(ctx context.Context, class string, target any) error
}

// Options tune the behavior of the cache.
// Only Provider and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Provider pr.Provider
	Codec    c.Codec[V]

	Namespace        string            // optional key prefix ("<ns>:") for every stored key
	Identity         Identity          // nil => DefaultIdentity ("id")
	Registry         reg.Registry      // nil => registry.Store on Provider
	IndexTTL         time.Duration     // TTL of tokens in the default registry; 0 => none
	ContextProviders []ContextProvider // nil => DefaultContextProviders(); empty slice => none
	OptionProviders  []OptionProvider  // applied in order to each write
	NewToken         reg.TokenFunc     // nil => registry.NewToken (UUIDv4); also used for default etags
	Now              func() time.Time  // nil => time.Now
	IsEmpty          func(V) bool      // nil => nil or false
	Logger           Logger            // if nil, NopLogger is used
	Hooks            Hooks             // if nil, NopHooks is used
	Disabled         bool              // default false (enabled); Fetch always computes
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
