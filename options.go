package bindcache

import (
	"time"

	pr "github.com/unkn0wn-root/bindcache/provider"
)

// OptionProvider transforms store write options before they reach the provider.
// Providers run in order.
type OptionProvider interface {
	Apply(pr.WriteOptions) pr.WriteOptions
}

// OptionProviderFunc adapts a function to OptionProvider.
type OptionProviderFunc func(pr.WriteOptions) pr.WriteOptions

func (f OptionProviderFunc) Apply(o pr.WriteOptions) pr.WriteOptions { return f(o) }

// DefaultTTL fills in d when no TTL was requested.
func DefaultTTL(d time.Duration) OptionProvider {
	return OptionProviderFunc(func(o pr.WriteOptions) pr.WriteOptions {
		if o.TTL <= 0 {
			o.TTL = d
		}
		return o
	})
}

// MaxTTL clamps requested TTLs to d. Entries without TTL get d as well.
func MaxTTL(d time.Duration) OptionProvider {
	return OptionProviderFunc(func(o pr.WriteOptions) pr.WriteOptions {
		if d > 0 && (o.TTL <= 0 || o.TTL > d) {
			o.TTL = d
		}
		return o
	})
}

func applyOptions(providers []OptionProvider, o pr.WriteOptions) pr.WriteOptions {
	for _, p := range providers {
		o = p.Apply(o)
	}
	return o
}
