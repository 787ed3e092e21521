package bindcache

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Request carries everything a cached computation varies on besides its binding.
type Request struct {
	Caller string     // caller identity (user id, api key id, ...)
	Path   string     // request path
	Query  url.Values // request query
	// Params are extra inputs folded into the key hash; nil values are ignored.
	Params map[string]any
	// TTL requested for this entry; option providers may default or clamp it.
	TTL time.Duration
}

// ContextProvider contributes one named field to the key fingerprint and may
// extend the binding. Providers run in order, before normalization.
type ContextProvider interface {
	Name() string
	Apply(spec Spec, req Request) (Spec, string)
}

// DefaultContextProviders fingerprints caller, path and query, in that order.
func DefaultContextProviders() []ContextProvider {
	return []ContextProvider{CallerProvider{}, PathProvider{}, QueryProvider{}}
}

// CallerProvider fingerprints Request.Caller. With Class set, a non-empty caller
// also binds the entry to that caller's object, so invalidating the caller
// invalidates everything cached for them.
type CallerProvider struct {
	Class string
}

func (CallerProvider) Name() string { return "caller" }

func (p CallerProvider) Apply(spec Spec, req Request) (Spec, string) {
	if p.Class != "" && req.Caller != "" && spec != nil {
		spec = AnyOf(spec, Object(p.Class, req.Caller))
	}
	return spec, req.Caller
}

// PathProvider fingerprints Request.Path.
type PathProvider struct{}

func (PathProvider) Name() string { return "path" }

func (PathProvider) Apply(spec Spec, req Request) (Spec, string) { return spec, req.Path }

// QueryProvider fingerprints Request.Query; parameters are sorted by key so
// "a=1&b=2" and "b=2&a=1" share a key.
type QueryProvider struct{}

func (QueryProvider) Name() string { return "query" }

func (QueryProvider) Apply(spec Spec, req Request) (Spec, string) {
	return spec, req.Query.Encode()
}

// applyContext runs providers in order and returns the extended spec plus the
// fingerprint string. Each field is written as "name=<len>:value\n" so values
// containing separators cannot impersonate other fields.
func applyContext(providers []ContextProvider, spec Spec, req Request) (Spec, string) {
	var sb strings.Builder
	for _, p := range providers {
		var v string
		spec, v = p.Apply(spec, req)
		sb.WriteString(p.Name())
		sb.WriteByte('=')
		sb.WriteString(strconv.Itoa(len(v)))
		sb.WriteByte(':')
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	return spec, sb.String()
}
