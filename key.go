package bindcache

import (
	"context"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/bindcache/internal/util"
)

// computeKey builds "tok1,tok2,...:hash". Tokens follow binding order; hash covers
// the fingerprint and the deterministic CBOR encoding of params without nil values.
// Rotating any contributing index changes the key; nothing else does.
func (cc *cache[V]) computeKey(ctx context.Context, b Binding, fingerprint string, params map[string]any) (string, error) {
	if b == nil {
		return "", ErrNilBinding
	}
	idx, err := cc.identity.indexes(b)
	if err != nil {
		return "", err
	}
	tokens, err := cc.registry.Tokens(ctx, idx)
	if err != nil {
		cc.hooks.TokenError(len(idx), err)
		cc.log.Warn("token lookup failed", Fields{"indexes": len(idx), "err": err})
		return "", err
	}
	h, err := cc.paramsHash(fingerprint, params)
	if err != nil {
		return "", err
	}
	return strings.Join(tokens, ",") + ":" + h, nil
}

func (cc *cache[V]) paramsHash(fingerprint string, params map[string]any) (string, error) {
	clean := make(map[string]any, len(params))
	for k, v := range params {
		if v != nil {
			clean[k] = v
		}
	}
	enc, err := cc.params.Encode(clean)
	if err != nil {
		return "", fmt.Errorf("bindcache: encode params: %w", err)
	}
	return util.ContentHash([]byte(fingerprint), enc), nil
}
