package bindcache

import (
	"context"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/bindcache/codec"
	"github.com/unkn0wn-root/bindcache/internal/wire"
	pr "github.com/unkn0wn-root/bindcache/provider"
	reg "github.com/unkn0wn-root/bindcache/registry"
)

const metaSuffix = ":meta"

type cache[V any] struct {
	provider     pr.Provider
	codec        c.Codec[V]
	params       c.CBOR[map[string]any]
	identity     Identity
	registry     reg.Registry
	ctxProviders []ContextProvider
	optProviders []OptionProvider
	newToken     reg.TokenFunc
	now          func() time.Time
	isEmpty      func(V) bool
	log          Logger
	hooks        Hooks
	enabled      bool
}

// keys are the storage keys of one logical request.
type keys struct {
	value string
	meta  string
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("bindcache: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("bindcache: codec is required")
	}
	params, err := c.NewCBOR[map[string]any](c.CBOROptions{Deterministic: true})
	if err != nil {
		return nil, fmt.Errorf("bindcache: params codec: %w", err)
	}

	cc := &cache[V]{
		provider:     pr.WithNamespace(opts.Provider, opts.Namespace),
		codec:        opts.Codec,
		params:       params,
		identity:     opts.Identity.fields(),
		optProviders: opts.OptionProviders,
		enabled:      !opts.Disabled,
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	if opts.Namespace != "" {
		cc.log = withFields(cc.log, Fields{"ns": opts.Namespace})
	}
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	cc.newToken = opts.NewToken
	if cc.newToken == nil {
		cc.newToken = reg.NewToken
	}
	cc.now = opts.Now
	if cc.now == nil {
		cc.now = time.Now
	}
	cc.isEmpty = opts.IsEmpty
	if cc.isEmpty == nil {
		cc.isEmpty = isEmpty[V]
	}
	cc.ctxProviders = opts.ContextProviders
	if cc.ctxProviders == nil {
		cc.ctxProviders = DefaultContextProviders()
	}

	if opts.Registry != nil {
		cc.registry = opts.Registry
	} else {
		// tokens live next to the values they guard
		cc.registry = reg.NewStore(cc.provider, cc.newToken, opts.IndexTTL)
	}

	return cc, nil
}

func (cc *cache[V]) Enabled() bool { return cc.enabled }

func (cc *cache[V]) Close(ctx context.Context) error {
	// Close registry first (best effort)
	if cc.registry != nil {
		_ = cc.registry.Close(ctx)
	}
	if cc.provider != nil {
		return cc.provider.Close(ctx)
	}
	return nil
}

func (cc *cache[V]) Fetch(ctx context.Context, spec Spec, req Request, compute ComputeFunc[V]) (V, error) {
	if !cc.enabled {
		return compute(ctx)
	}
	k, err := cc.resolve(ctx, spec, req)
	if err != nil {
		var zero V
		return zero, err
	}
	return cc.fetch(ctx, k, cc.writeOptions(req), compute, true)
}

func (cc *cache[V]) fetch(ctx context.Context, k keys, opts pr.WriteOptions, compute ComputeFunc[V], retry bool) (V, error) {
	var (
		zero     V
		computed V
		ran      bool
	)
	raw, created, err := cc.provider.FetchOrCreate(ctx, k.value, opts, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		computed, ran = v, true
		payload, err := cc.codec.Encode(v)
		if err != nil {
			return nil, err
		}
		if !cc.isEmpty(v) {
			if err := cc.writeMetadata(ctx, k.meta, payload, opts); err != nil {
				return nil, err
			}
		}
		return wire.EncodeValue(payload), nil
	})
	if err != nil {
		return zero, err
	}
	cc.hooks.Lookup(!created)

	if ran && created {
		if cc.isEmpty(computed) {
			return computed, cc.evictEmpty(ctx, k.value)
		}
		return computed, nil
	}

	v, payload, reason, err := cc.decode(raw)
	if err != nil {
		_ = cc.provider.Del(ctx, k.value) // self-heal
		cc.hooks.SelfHeal(k.value, reason)
		cc.log.Debug("dropped unreadable entry", Fields{"key": k.value, "reason": reason})
		if retry {
			return cc.fetch(ctx, k, opts, compute, false)
		}
		return zero, err
	}

	if cc.isEmpty(v) {
		// stored by a concurrent writer ahead of its own eviction; never a hit
		if err := cc.evictEmpty(ctx, k.value); err != nil {
			return zero, err
		}
		if retry {
			return cc.fetch(ctx, k, opts, compute, false)
		}
		return compute(ctx)
	}

	if ran {
		// lost the create race: metadata follows the adopted value
		if err := cc.writeMetadata(ctx, k.meta, payload, opts); err != nil {
			return zero, err
		}
	}
	return v, nil
}

func (cc *cache[V]) evictEmpty(ctx context.Context, key string) error {
	if err := cc.provider.Del(ctx, key); err != nil {
		return err
	}
	cc.hooks.EmptyEvicted(key)
	cc.log.Debug("empty result not cached", Fields{"key": key})
	return nil
}

func (cc *cache[V]) decode(raw []byte) (V, []byte, string, error) {
	var zero V
	payload, err := wire.DecodeValue(raw)
	if err != nil {
		return zero, nil, "corrupt_value", err
	}
	v, err := cc.codec.Decode(payload)
	if err != nil {
		return zero, nil, "value_decode", err
	}
	return v, payload, "", nil
}

func (cc *cache[V]) Key(ctx context.Context, spec Spec, req Request) (string, error) {
	k, err := cc.resolve(ctx, spec, req)
	if err != nil {
		return "", err
	}
	return k.value, nil
}

// resolve applies context providers, normalizes the binding and synthesizes keys.
func (cc *cache[V]) resolve(ctx context.Context, spec Spec, req Request) (keys, error) {
	spec, fingerprint := applyContext(cc.ctxProviders, spec, req)
	b, err := cc.identity.Normalize(spec)
	if err != nil {
		return keys{}, err
	}
	key, err := cc.computeKey(ctx, b, fingerprint, req.Params)
	if err != nil {
		return keys{}, err
	}
	return keys{value: key, meta: key + metaSuffix}, nil
}

func (cc *cache[V]) writeOptions(req Request) pr.WriteOptions {
	return applyOptions(cc.optProviders, pr.WriteOptions{TTL: req.TTL})
}

func (cc *cache[V]) Invalidate(ctx context.Context, class string, target any) error {
	if !cc.enabled {
		return nil
	}
	sel, err := cc.targetSelector(class, target)
	if err != nil {
		return err
	}
	idx, err := cc.identity.IndexFor(class, sel)
	if err != nil {
		return err
	}

	objErr := cc.rotate(ctx, idx)
	if sel == nil {
		if objErr != nil {
			return &InvalidateError{Class: class, Index: idx, ObjectErr: objErr}
		}
		return nil
	}

	// an object change also changes every class-wide view of it
	wildErr := cc.rotate(ctx, wildcardIndex(class))
	if objErr != nil || wildErr != nil {
		return &InvalidateError{Class: class, Index: idx, ObjectErr: objErr, WildcardErr: wildErr}
	}
	return nil
}

// targetSelector reads an Invalidate target the way binding shorthands read
// their object element: nil, a selector, or one identity value.
func (cc *cache[V]) targetSelector(class string, target any) (Selector, error) {
	spec, err := classWith(class, target, []any{class, target})
	if err != nil {
		return nil, err
	}
	b, err := cc.identity.Normalize(spec)
	if err != nil {
		return nil, err
	}
	return b[0].Selector, nil
}

func (cc *cache[V]) rotate(ctx context.Context, index string) error {
	tok, err := cc.registry.Rotate(ctx, index)
	if err != nil {
		cc.hooks.RotateError(index, err)
		cc.log.Error("index rotation failed", Fields{"index": index, "err": err})
		return err
	}
	cc.hooks.IndexRotated(index)
	cc.log.Debug("rotated index", Fields{"index": index, "token": tok})
	return nil
}
