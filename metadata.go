package bindcache

import (
	"context"
	"strings"
	"time"

	"github.com/unkn0wn-root/bindcache/internal/util"
	"github.com/unkn0wn-root/bindcache/internal/wire"
	pr "github.com/unkn0wn-root/bindcache/provider"
)

// Metadata supports conditional responses for a cached result.
type Metadata struct {
	ETag         string
	LastModified time.Time
}

// NotModified evaluates If-None-Match / If-Modified-Since style preconditions.
// ifNoneMatch takes precedence; weak validators and quoted tags are accepted.
func (m Metadata) NotModified(ifNoneMatch string, ifModifiedSince time.Time) bool {
	if ifNoneMatch != "" {
		for _, tag := range strings.Split(ifNoneMatch, ",") {
			tag = strings.Trim(strings.TrimPrefix(strings.TrimSpace(tag), "W/"), `"`)
			if tag == "*" || tag == m.ETag {
				return true
			}
		}
		return false
	}
	if ifModifiedSince.IsZero() {
		return false
	}
	// HTTP dates have second precision
	return !m.LastModified.Truncate(time.Second).After(ifModifiedSince)
}

func (cc *cache[V]) Metadata(ctx context.Context, spec Spec, req Request) (Metadata, error) {
	if !cc.enabled {
		return cc.defaultMetadata(), nil
	}
	k, err := cc.resolve(ctx, spec, req)
	if err != nil {
		return Metadata{}, err
	}
	return cc.readMetadata(ctx, k.meta)
}

// readMetadata never persists the default it returns on a miss.
func (cc *cache[V]) readMetadata(ctx context.Context, metaKey string) (Metadata, error) {
	raw, ok, err := cc.provider.Get(ctx, metaKey)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return cc.defaultMetadata(), nil
	}
	etag, lm, err := wire.DecodeMeta(raw)
	if err != nil {
		_ = cc.provider.Del(ctx, metaKey) // self-heal
		cc.hooks.SelfHeal(metaKey, "corrupt_meta")
		return cc.defaultMetadata(), nil
	}
	return Metadata{ETag: etag, LastModified: lm}, nil
}

func (cc *cache[V]) writeMetadata(ctx context.Context, metaKey string, payload []byte, opts pr.WriteOptions) error {
	raw, err := wire.EncodeMeta(util.ETag(payload), cc.now())
	if err != nil {
		return err
	}
	ok, err := cc.provider.Set(ctx, metaKey, raw, opts)
	if err != nil {
		return err
	}
	if !ok {
		cc.hooks.ProviderSetRejected(metaKey)
		cc.log.Debug("metadata write rejected by provider (pressure)", Fields{"key": metaKey})
	}
	return nil
}

func (cc *cache[V]) defaultMetadata() Metadata {
	return Metadata{ETag: cc.newToken(), LastModified: cc.now()}
}
