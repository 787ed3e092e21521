package provider

import "context"

// Namespaced isolates a Provider's keyspace by prefixing every key with "<ns>:".
type Namespaced struct {
	inner Provider
	ns    string
}

var _ Provider = (*Namespaced)(nil)

// WithNamespace wraps p. An empty namespace returns p unchanged.
func WithNamespace(p Provider, ns string) Provider {
	if ns == "" {
		return p
	}
	return &Namespaced{inner: p, ns: ns}
}

func (n *Namespaced) key(k string) string { return n.ns + ":" + k }

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.inner.Get(ctx, n.key(key))
}

func (n *Namespaced) FetchOrCreate(ctx context.Context, key string, opts WriteOptions, create CreateFunc) ([]byte, bool, error) {
	return n.inner.FetchOrCreate(ctx, n.key(key), opts, create)
}

func (n *Namespaced) Set(ctx context.Context, key string, value []byte, opts WriteOptions) (bool, error) {
	return n.inner.Set(ctx, n.key(key), value, opts)
}

func (n *Namespaced) Del(ctx context.Context, key string) error {
	return n.inner.Del(ctx, n.key(key))
}

func (n *Namespaced) Close(ctx context.Context) error { return n.inner.Close(ctx) }
