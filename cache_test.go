package bindcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	c "github.com/unkn0wn-root/bindcache/codec"
	"github.com/unkn0wn-root/bindcache/internal/util"
	"github.com/unkn0wn-root/bindcache/internal/wire"
	pr "github.com/unkn0wn-root/bindcache/provider"
	reg "github.com/unkn0wn-root/bindcache/registry"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu   sync.Mutex
	m    map[string]memEntry
	x    pr.Exclusive
	ttls map[string]time.Duration // last TTL written per key
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider {
	return &memProvider{m: make(map[string]memEntry), ttls: make(map[string]time.Duration)}
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) FetchOrCreate(ctx context.Context, key string, opts pr.WriteOptions, create pr.CreateFunc) ([]byte, bool, error) {
	return p.x.Do(ctx, key,
		func(ctx context.Context) ([]byte, bool, error) { return p.Get(ctx, key) },
		func(ctx context.Context, v []byte) error { _, err := p.Set(ctx, key, v, opts); return err },
		create,
	)
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, opts pr.WriteOptions) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var exp time.Time
	if opts.TTL > 0 {
		exp = time.Now().Add(opts.TTL)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	p.ttls[key] = opts.TTL
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = memEntry{v: v}
}

func (p *memProvider) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.m))
	for k := range p.m {
		out = append(out, k)
	}
	return out
}

type recHooks struct {
	NopHooks
	mu       sync.Mutex
	hits     int
	misses   int
	heals    []string
	empties  int
	rotated  []string
	rotErrs  int
	tokErrs  int
	rejected int
}

func (h *recHooks) Lookup(hit bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hit {
		h.hits++
	} else {
		h.misses++
	}
}

func (h *recHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heals = append(h.heals, reason)
}

func (h *recHooks) EmptyEvicted(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.empties++
}

func (h *recHooks) IndexRotated(index string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rotated = append(h.rotated, index)
}

func (h *recHooks) RotateError(string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rotErrs++
}

func (h *recHooks) TokenError(int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokErrs++
}

type widget struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func counterTokens() reg.TokenFunc {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("t%d", n.Add(1)) }
}

func newTestCache[V any](t *testing.T, mp pr.Provider, codec c.Codec[V], optsOpt func(*Options[V])) Cache[V] {
	t.Helper()
	opts := Options[V]{
		Provider: mp,
		Codec:    codec,
		NewToken: counterTokens(),
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New[V](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func mustImpl[V any](t *testing.T, cc Cache[V]) *cache[V] {
	t.Helper()
	impl, ok := cc.(*cache[V])
	if !ok {
		t.Fatalf("unexpected concrete type for Cache: %T", cc)
	}
	return impl
}

func mustKey[V any](t *testing.T, cc Cache[V], spec Spec, req Request) string {
	t.Helper()
	k, err := cc.Key(context.Background(), spec, req)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	return k
}

func TestNewRequiresProviderAndCodec(t *testing.T) {
	if _, err := New[widget](Options[widget]{Codec: c.JSON[widget]{}}); err == nil {
		t.Fatal("want error without provider")
	}
	if _, err := New[widget](Options[widget]{Provider: newMemProvider()}); err == nil {
		t.Fatal("want error without codec")
	}
}

func TestFetchHitAfterMiss(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, func(o *Options[widget]) { o.Hooks = h })

	spec, err := ParseSpec([]any{[]any{"Widget"}, []any{"User", map[string]any{"id": 7}}})
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	compute := func(context.Context) (widget, error) {
		calls++
		return widget{ID: 1, Name: "gear"}, nil
	}

	for i := 0; i < 2; i++ {
		w, err := cc.Fetch(ctx, spec, Request{}, compute)
		if err != nil {
			t.Fatalf("Fetch #%d: %v", i, err)
		}
		if w.Name != "gear" {
			t.Fatalf("Fetch #%d: got %+v", i, w)
		}
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
	if h.misses != 1 || h.hits != 1 {
		t.Fatalf("hooks: misses=%d hits=%d, want 1/1", h.misses, h.hits)
	}
	if k := mustKey(t, cc, spec, Request{}); !mp.has(k) {
		t.Fatalf("value not stored under %q", k)
	}
}

func TestKeyFormat(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, nil)
	impl := mustImpl(t, cc)

	k := mustKey(t, cc, AnyOf(Class("Widget"), Object("User", 7)), Request{})

	wTok, err := impl.registry.Token(ctx, "INDEX:Widget/*")
	if err != nil {
		t.Fatal(err)
	}
	uTok, err := impl.registry.Token(ctx, "INDEX:User/id=7")
	if err != nil {
		t.Fatal(err)
	}
	prefix := wTok + "," + uTok + ":"
	if !strings.HasPrefix(k, prefix) {
		t.Fatalf("key %q does not start with %q", k, prefix)
	}
	if h := strings.TrimPrefix(k, prefix); len(h) != 64 {
		t.Fatalf("hash part %q is not a hex sha256", h)
	}
	// tokens were created lazily under their index strings
	if !mp.has("INDEX:Widget/*") || !mp.has("INDEX:User/id=7") {
		t.Fatalf("index tokens missing: %v", mp.keys())
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)
	req := Request{Caller: "u1", Path: "/widgets", Params: map[string]any{"page": 2, "sort": "name"}}
	first := mustKey(t, cc, Object("Widget", 5), req)
	for i := 0; i < 20; i++ {
		if k := mustKey(t, cc, Object("Widget", 5), req); k != first {
			t.Fatalf("key changed without rotation: %q vs %q", k, first)
		}
	}
}

func TestShorthandFormsShareKey(t *testing.T) {
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)
	want := mustKey(t, cc, Object("Widget", 1), Request{})

	for _, in := range []any{
		[]any{"Widget", 1},
		[]any{"Widget", map[string]any{"id": 1}},
		map[string]any{"klass": "Widget", "object": map[string]any{"id": 1}},
	} {
		spec, err := ParseSpec(in)
		if err != nil {
			t.Fatalf("ParseSpec(%#v): %v", in, err)
		}
		if got := mustKey(t, cc, spec, Request{}); got != want {
			t.Fatalf("ParseSpec(%#v) key %q, want %q", in, got, want)
		}
	}
}

func TestRotationChangesOnlyDependentKeys(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)
	impl := mustImpl(t, cc)

	a := Object("Widget", 1)
	b := Object("User", 2)
	both := AnyOf(Object("Widget", 1), Object("User", 2))

	ka, kb, kboth := mustKey(t, cc, a, Request{}), mustKey(t, cc, b, Request{}), mustKey(t, cc, both, Request{})

	if _, err := impl.registry.Rotate(ctx, "INDEX:Widget/id=1"); err != nil {
		t.Fatal(err)
	}

	if k := mustKey(t, cc, a, Request{}); k == ka {
		t.Fatal("key bound to Widget 1 did not change")
	}
	if k := mustKey(t, cc, both, Request{}); k == kboth {
		t.Fatal("key bound to Widget 1 or User 2 did not change")
	}
	if k := mustKey(t, cc, b, Request{}); k != kb {
		t.Fatal("key bound only to User 2 changed")
	}
}

func TestInvalidateObjectRotatesObjectAndWildcard(t *testing.T) {
	ctx := context.Background()
	h := &recHooks{}
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, func(o *Options[widget]) { o.Hooks = h })

	list := mustKey(t, cc, Class("Widget"), Request{})
	one := mustKey(t, cc, Object("Widget", 5), Request{})
	other := mustKey(t, cc, Object("Widget", 6), Request{})

	if err := cc.Invalidate(ctx, "Widget", 5); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	if mustKey(t, cc, Class("Widget"), Request{}) == list {
		t.Fatal("class-wide key survived object invalidation")
	}
	if mustKey(t, cc, Object("Widget", 5), Request{}) == one {
		t.Fatal("object key survived its own invalidation")
	}
	if mustKey(t, cc, Object("Widget", 6), Request{}) != other {
		t.Fatal("unrelated object key changed")
	}
	want := []string{"INDEX:Widget/id=5", "INDEX:Widget/*"}
	if fmt.Sprint(h.rotated) != fmt.Sprint(want) {
		t.Fatalf("rotated %v, want %v", h.rotated, want)
	}
}

func TestInvalidateSelectorTargets(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, func(o *Options[widget]) {
		o.Identity = Identity{"id", "uuid"}
	})

	k := mustKey(t, cc, Select("User", Selector{"uuid": "abc"}), Request{})
	if err := cc.Invalidate(ctx, "User", map[string]any{"uuid": "abc", "name": "ignored"}); err != nil {
		t.Fatal(err)
	}
	if mustKey(t, cc, Select("User", Selector{"uuid": "abc"}), Request{}) == k {
		t.Fatal("selector invalidation did not change key")
	}

	if err := cc.Invalidate(ctx, "User", Selector{"email": "x@y"}); !errors.Is(err, ErrMissingIdentityField) {
		t.Fatalf("want ErrMissingIdentityField, got %v", err)
	}
}

func TestInvalidateRejectsCompositeTargets(t *testing.T) {
	ctx := context.Background()
	h := &recHooks{}
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, func(o *Options[widget]) { o.Hooks = h })

	for _, target := range []any{[]any{"x"}, Object("Widget", 5), AnyOf(Class("Widget"))} {
		if err := cc.Invalidate(ctx, "Widget", target); !errors.Is(err, ErrMalformedBinding) {
			t.Fatalf("Invalidate(%#v): want ErrMalformedBinding, got %v", target, err)
		}
	}
	if err := cc.Invalidate(ctx, "", 5); !errors.Is(err, ErrMalformedBinding) {
		t.Fatalf("empty class: want ErrMalformedBinding, got %v", err)
	}
	if len(h.rotated) != 0 {
		t.Fatalf("rejected targets rotated %v", h.rotated)
	}
}

func TestInvalidateClassRotatesOnlyWildcard(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)

	list := mustKey(t, cc, Class("Widget"), Request{})
	one := mustKey(t, cc, Object("Widget", 5), Request{})

	if err := cc.Invalidate(ctx, "Widget", nil); err != nil {
		t.Fatal(err)
	}
	if mustKey(t, cc, Class("Widget"), Request{}) == list {
		t.Fatal("class-wide key survived class invalidation")
	}
	if mustKey(t, cc, Object("Widget", 5), Request{}) != one {
		t.Fatal("object key changed on class-wide invalidation")
	}
}

func TestInvalidatedEntryRecomputes(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)

	name := "v1"
	compute := func(context.Context) (widget, error) { return widget{ID: 5, Name: name}, nil }

	if w, _ := cc.Fetch(ctx, Object("Widget", 5), Request{}, compute); w.Name != "v1" {
		t.Fatalf("got %+v", w)
	}
	name = "v2"
	if w, _ := cc.Fetch(ctx, Object("Widget", 5), Request{}, compute); w.Name != "v1" {
		t.Fatalf("expected cached v1, got %+v", w)
	}
	if err := cc.Invalidate(ctx, "Widget", 5); err != nil {
		t.Fatal(err)
	}
	if w, _ := cc.Fetch(ctx, Object("Widget", 5), Request{}, compute); w.Name != "v2" {
		t.Fatalf("expected recomputed v2, got %+v", w)
	}
}

func TestEmptyResultsAreNotCached(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	cc := newTestCache[*widget](t, mp, c.JSON[*widget]{}, func(o *Options[*widget]) { o.Hooks = h })

	calls := 0
	compute := func(context.Context) (*widget, error) { calls++; return nil, nil }
	for i := 0; i < 2; i++ {
		w, err := cc.Fetch(ctx, Object("Widget", 9), Request{}, compute)
		if err != nil || w != nil {
			t.Fatalf("Fetch #%d = %v, %v; want nil, nil", i, w, err)
		}
	}
	if calls != 2 {
		t.Fatalf("compute ran %d times, want 2", calls)
	}
	k := mustKey(t, cc, Object("Widget", 9), Request{})
	if mp.has(k) || mp.has(k+metaSuffix) {
		t.Fatal("empty result left entries behind")
	}
	if h.empties != 2 {
		t.Fatalf("EmptyEvicted fired %d times, want 2", h.empties)
	}
}

func TestStoredEmptyValueIsRecomputed(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	cc := newTestCache[*widget](t, mp, c.JSON[*widget]{}, func(o *Options[*widget]) { o.Hooks = h })

	spec := Object("Widget", 1)
	k := mustKey(t, cc, spec, Request{})
	mp.put(k, wire.EncodeValue([]byte("null")))

	calls := 0
	w, err := cc.Fetch(ctx, spec, Request{}, func(context.Context) (*widget, error) {
		calls++
		return &widget{ID: 1, Name: "fresh"}, nil
	})
	if err != nil || w == nil || w.Name != "fresh" {
		t.Fatalf("Fetch = %+v, %v; want fresh widget", w, err)
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
	if h.empties != 1 {
		t.Fatalf("EmptyEvicted fired %d times, want 1", h.empties)
	}
	raw, ok, _ := mp.Get(ctx, k)
	if !ok || string(raw) != string(wire.EncodeValue([]byte(`{"id":1,"name":"fresh"}`))) {
		t.Fatalf("stored %q, want the recomputed value", raw)
	}
}

func TestFalseIsNotCachedButZeroIs(t *testing.T) {
	ctx := context.Background()
	bools := newTestCache[bool](t, newMemProvider(), c.JSON[bool]{}, nil)
	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = bools.Fetch(ctx, Class("Flag"), Request{}, func(context.Context) (bool, error) { calls++; return false, nil })
	}
	if calls != 2 {
		t.Fatalf("false: compute ran %d times, want 2", calls)
	}

	ints := newTestCache[int](t, newMemProvider(), c.JSON[int]{}, nil)
	calls = 0
	for i := 0; i < 2; i++ {
		_, _ = ints.Fetch(ctx, Class("Counter"), Request{}, func(context.Context) (int, error) { calls++; return 0, nil })
	}
	if calls != 1 {
		t.Fatalf("zero: compute ran %d times, want 1", calls)
	}
}

func TestCustomIsEmpty(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache[string](t, newMemProvider(), c.String{}, func(o *Options[string]) {
		o.IsEmpty = func(s string) bool { return s == "" }
	})
	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = cc.Fetch(ctx, Class("Page"), Request{}, func(context.Context) (string, error) { calls++; return "", nil })
	}
	if calls != 2 {
		t.Fatalf("compute ran %d times, want 2", calls)
	}
}

func TestComputeErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, nil)

	boom := errors.New("boom")
	_, err := cc.Fetch(ctx, Object("Widget", 1), Request{}, func(context.Context) (widget, error) { return widget{}, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if mp.has(mustKey(t, cc, Object("Widget", 1), Request{})) {
		t.Fatal("failed compute stored a value")
	}
}

func TestMissingIdentityFieldFailsBeforeCompute(t *testing.T) {
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)
	spec, err := ParseSpec(map[string]any{"klass": "Widget", "object": map[string]any{"slug": "x"}})
	if err != nil {
		t.Fatal(err)
	}
	ran := false
	_, err = cc.Fetch(context.Background(), spec, Request{}, func(context.Context) (widget, error) {
		ran = true
		return widget{}, nil
	})
	if !errors.Is(err, ErrMissingIdentityField) {
		t.Fatalf("want ErrMissingIdentityField, got %v", err)
	}
	if ran {
		t.Fatal("compute ran for an invalid binding")
	}
}

func TestNilBinding(t *testing.T) {
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)
	if _, err := cc.Key(context.Background(), nil, Request{}); !errors.Is(err, ErrNilBinding) {
		t.Fatalf("want ErrNilBinding, got %v", err)
	}
	_, err := cc.Fetch(context.Background(), nil, Request{}, func(context.Context) (widget, error) { return widget{}, nil })
	if !errors.Is(err, ErrNilBinding) {
		t.Fatalf("Fetch: want ErrNilBinding, got %v", err)
	}
}

func TestContextFingerprint(t *testing.T) {
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)
	spec := Class("Widget")

	base := mustKey(t, cc, spec, Request{Caller: "u1", Path: "/w", Query: url.Values{"a": {"1"}, "b": {"2"}}})

	// query order does not matter
	q, _ := url.ParseQuery("b=2&a=1")
	if k := mustKey(t, cc, spec, Request{Caller: "u1", Path: "/w", Query: q}); k != base {
		t.Fatal("reordered query changed the key")
	}
	for name, req := range map[string]Request{
		"caller": {Caller: "u2", Path: "/w", Query: q},
		"path":   {Caller: "u1", Path: "/x", Query: q},
		"query":  {Caller: "u1", Path: "/w", Query: url.Values{"a": {"1"}}},
		"params": {Caller: "u1", Path: "/w", Query: q, Params: map[string]any{"page": 2}},
	} {
		if k := mustKey(t, cc, spec, req); k == base {
			t.Fatalf("%s did not change the key", name)
		}
	}
}

func TestFingerprintFieldsCannotBleed(t *testing.T) {
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)
	spoofed := mustKey(t, cc, Class("Widget"), Request{Caller: "a\npath=/x"})
	split := mustKey(t, cc, Class("Widget"), Request{Caller: "a", Path: "/x"})
	if spoofed == split {
		t.Fatal("caller value impersonated the path field")
	}
}

func TestNilParamsAreIgnored(t *testing.T) {
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)
	a := mustKey(t, cc, Class("Widget"), Request{Params: map[string]any{"page": 1, "filter": nil}})
	b := mustKey(t, cc, Class("Widget"), Request{Params: map[string]any{"page": 1}})
	if a != b {
		t.Fatalf("nil param changed key: %q vs %q", a, b)
	}
	if mustKey(t, cc, Class("Widget"), Request{}) != mustKey(t, cc, Class("Widget"), Request{Params: map[string]any{}}) {
		t.Fatal("nil and empty params differ")
	}
}

func TestNoContextProviders(t *testing.T) {
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, func(o *Options[widget]) {
		o.ContextProviders = []ContextProvider{}
	})
	a := mustKey(t, cc, Class("Widget"), Request{Caller: "u1", Path: "/a"})
	b := mustKey(t, cc, Class("Widget"), Request{Caller: "u2", Path: "/b"})
	if a != b {
		t.Fatal("request context leaked into key with no context providers")
	}
}

func TestCallerProviderBindsCaller(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, func(o *Options[widget]) {
		o.ContextProviders = []ContextProvider{CallerProvider{Class: "User"}, PathProvider{}}
	})

	req := Request{Caller: "u1", Path: "/dashboard"}
	k1 := mustKey(t, cc, Object("Widget", 1), req)
	k2 := mustKey(t, cc, Object("Widget", 1), Request{Caller: "u2", Path: "/dashboard"})

	if err := cc.Invalidate(ctx, "User", "u1"); err != nil {
		t.Fatal(err)
	}
	if mustKey(t, cc, Object("Widget", 1), req) == k1 {
		t.Fatal("invalidating the caller did not change their key")
	}
	if mustKey(t, cc, Object("Widget", 1), Request{Caller: "u2", Path: "/dashboard"}) != k2 {
		t.Fatal("invalidating one caller changed another caller's key")
	}
}

func TestOptionProvidersShapeWrites(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, func(o *Options[widget]) {
		o.OptionProviders = []OptionProvider{DefaultTTL(time.Minute), MaxTTL(10 * time.Minute)}
	})
	compute := func(context.Context) (widget, error) { return widget{ID: 1}, nil }

	cases := []struct {
		id   int
		req  time.Duration
		want time.Duration
	}{
		{1, 0, time.Minute},
		{2, 5 * time.Minute, 5 * time.Minute},
		{3, time.Hour, 10 * time.Minute},
	}
	for _, tc := range cases {
		req := Request{TTL: tc.req}
		if _, err := cc.Fetch(ctx, Object("Widget", tc.id), req, compute); err != nil {
			t.Fatal(err)
		}
		k := mustKey(t, cc, Object("Widget", tc.id), req)
		mp.mu.Lock()
		got, meta := mp.ttls[k], mp.ttls[k+metaSuffix]
		mp.mu.Unlock()
		if got != tc.want || meta != tc.want {
			t.Fatalf("TTL %v: value=%v meta=%v, want %v", tc.req, got, meta, tc.want)
		}
	}
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, func(o *Options[widget]) {
		o.Now = func() time.Time { return now }
	})
	spec := Object("Widget", 3)

	def, err := cc.Metadata(ctx, spec, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if def.ETag == "" || !def.LastModified.Equal(now) {
		t.Fatalf("default metadata = %+v", def)
	}
	k := mustKey(t, cc, spec, Request{})
	if mp.has(k + metaSuffix) {
		t.Fatal("default metadata was persisted")
	}

	w := widget{ID: 3, Name: "bolt"}
	if _, err := cc.Fetch(ctx, spec, Request{}, func(context.Context) (widget, error) { return w, nil }); err != nil {
		t.Fatal(err)
	}
	payload, _ := json.Marshal(w)
	md, err := cc.Metadata(ctx, spec, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if md.ETag != util.ETag(payload) || !md.LastModified.Equal(now) {
		t.Fatalf("metadata = %+v, want etag %s", md, util.ETag(payload))
	}
	again, _ := cc.Metadata(ctx, spec, Request{})
	if again != md {
		t.Fatal("stored metadata is not stable")
	}

	if err := cc.Invalidate(ctx, "Widget", 3); err != nil {
		t.Fatal(err)
	}
	after, _ := cc.Metadata(ctx, spec, Request{})
	if after.ETag == md.ETag {
		t.Fatal("metadata survived invalidation")
	}
}

func TestCorruptMetadataSelfHeals(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, func(o *Options[widget]) { o.Hooks = h })

	k := mustKey(t, cc, Class("Widget"), Request{})
	mp.put(k+metaSuffix, []byte("garbage"))

	md, err := cc.Metadata(ctx, Class("Widget"), Request{})
	if err != nil || md.ETag == "" {
		t.Fatalf("Metadata = %+v, %v", md, err)
	}
	if mp.has(k + metaSuffix) {
		t.Fatal("corrupt metadata not deleted")
	}
	if len(h.heals) != 1 || h.heals[0] != "corrupt_meta" {
		t.Fatalf("heals = %v", h.heals)
	}
}

func TestCorruptValueSelfHeals(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, func(o *Options[widget]) { o.Hooks = h })

	spec := Object("Widget", 4)
	k := mustKey(t, cc, spec, Request{})
	mp.put(k, []byte("not a framed value"))

	calls := 0
	w, err := cc.Fetch(ctx, spec, Request{}, func(context.Context) (widget, error) {
		calls++
		return widget{ID: 4, Name: "fresh"}, nil
	})
	if err != nil || w.Name != "fresh" {
		t.Fatalf("Fetch = %+v, %v", w, err)
	}
	if calls != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
	if len(h.heals) != 1 || h.heals[0] != "corrupt_value" {
		t.Fatalf("heals = %v", h.heals)
	}
	// healed entry is served from cache afterwards
	if w, _ := cc.Fetch(ctx, spec, Request{}, func(context.Context) (widget, error) {
		calls++
		return widget{}, nil
	}); w.Name != "fresh" || calls != 1 {
		t.Fatalf("after heal: %+v, calls=%d", w, calls)
	}
}

func TestDisabledAlwaysComputes(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, func(o *Options[widget]) { o.Disabled = true })
	if cc.Enabled() {
		t.Fatal("Enabled() = true")
	}
	calls := 0
	for i := 0; i < 3; i++ {
		_, _ = cc.Fetch(ctx, Class("Widget"), Request{}, func(context.Context) (widget, error) {
			calls++
			return widget{ID: 1}, nil
		})
	}
	if calls != 3 {
		t.Fatalf("compute ran %d times, want 3", calls)
	}
	if err := cc.Invalidate(ctx, "Widget", 1); err != nil {
		t.Fatal(err)
	}
	if n := len(mp.keys()); n != 0 {
		t.Fatalf("disabled cache wrote %d keys", n)
	}
}

func TestNamespacePrefixesEveryKey(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache[widget](t, mp, c.JSON[widget]{}, func(o *Options[widget]) { o.Namespace = "app" })

	if _, err := cc.Fetch(ctx, Object("Widget", 1), Request{}, func(context.Context) (widget, error) {
		return widget{ID: 1}, nil
	}); err != nil {
		t.Fatal(err)
	}
	for _, k := range mp.keys() {
		if !strings.HasPrefix(k, "app:") {
			t.Fatalf("key %q escaped the namespace", k)
		}
	}
}

func TestConcurrentFetchComputesOnce(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, nil)

	var calls atomic.Int32
	compute := func(context.Context) (widget, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return widget{ID: 1, Name: "shared"}, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := cc.Fetch(ctx, Object("Widget", 1), Request{}, compute)
			if err == nil && w.Name != "shared" {
				err = fmt.Errorf("got %+v", w)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute ran %d times, want 1", n)
	}
}

// racingProvider runs create but reports that another writer got there first.
type racingProvider struct {
	*memProvider
	winner []byte
}

func (p *racingProvider) FetchOrCreate(ctx context.Context, key string, opts pr.WriteOptions, create pr.CreateFunc) ([]byte, bool, error) {
	if _, err := create(ctx); err != nil {
		return nil, false, err
	}
	if _, err := p.Set(ctx, key, p.winner, opts); err != nil {
		return nil, false, err
	}
	return p.winner, false, nil
}

func TestRaceLoserAdoptsWinnerMetadata(t *testing.T) {
	ctx := context.Background()
	winner, _ := json.Marshal(widget{ID: 2, Name: "winner"})
	rp := &racingProvider{memProvider: newMemProvider(), winner: wire.EncodeValue(winner)}
	cc := newTestCache[widget](t, rp, c.JSON[widget]{}, func(o *Options[widget]) {
		o.Registry = reg.NewLocal(nil, 0, 0)
	})

	w, err := cc.Fetch(ctx, Object("Widget", 2), Request{}, func(context.Context) (widget, error) {
		return widget{ID: 2, Name: "loser"}, nil
	})
	if err != nil || w.Name != "winner" {
		t.Fatalf("Fetch = %+v, %v; want the stored winner", w, err)
	}
	md, err := cc.Metadata(ctx, Object("Widget", 2), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if md.ETag != util.ETag(winner) {
		t.Fatalf("metadata etag %s describes the discarded value, want %s", md.ETag, util.ETag(winner))
	}
}

type faultyRegistry struct {
	reg.Registry
	tokenErr  error
	rotateErr map[string]error
}

func (f *faultyRegistry) Tokens(ctx context.Context, idx []string) ([]string, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return f.Registry.Tokens(ctx, idx)
}

func (f *faultyRegistry) Rotate(ctx context.Context, index string) (string, error) {
	if err := f.rotateErr[index]; err != nil {
		return "", err
	}
	return f.Registry.Rotate(ctx, index)
}

func TestTokenErrorPropagates(t *testing.T) {
	boom := errors.New("registry down")
	h := &recHooks{}
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, func(o *Options[widget]) {
		o.Registry = &faultyRegistry{Registry: reg.NewLocal(nil, 0, 0), tokenErr: boom}
		o.Hooks = h
	})
	_, err := cc.Fetch(context.Background(), Class("Widget"), Request{}, func(context.Context) (widget, error) {
		t.Fatal("compute ran without a key")
		return widget{}, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want registry error, got %v", err)
	}
	if h.tokErrs != 1 {
		t.Fatalf("TokenError fired %d times", h.tokErrs)
	}
}

func TestInvalidateErrorReportsBothRotations(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("wildcard down")
	h := &recHooks{}
	cc := newTestCache[widget](t, newMemProvider(), c.JSON[widget]{}, func(o *Options[widget]) {
		o.Registry = &faultyRegistry{
			Registry:  reg.NewLocal(nil, 0, 0),
			rotateErr: map[string]error{"INDEX:Widget/*": boom},
		}
		o.Hooks = h
	})

	err := cc.Invalidate(ctx, "Widget", 1)
	var ie *InvalidateError
	if !errors.As(err, &ie) {
		t.Fatalf("want *InvalidateError, got %T %v", err, err)
	}
	if ie.ObjectErr != nil || !errors.Is(ie.WildcardErr, boom) || !errors.Is(err, boom) {
		t.Fatalf("unexpected InvalidateError: %+v", ie)
	}
	if ie.Index != "INDEX:Widget/id=1" || ie.Class != "Widget" {
		t.Fatalf("unexpected InvalidateError: %+v", ie)
	}
	if h.rotErrs != 1 || len(h.rotated) != 1 {
		t.Fatalf("hooks: rotErrs=%d rotated=%v", h.rotErrs, h.rotated)
	}
}

func TestNotModified(t *testing.T) {
	lm := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	md := Metadata{ETag: "abc", LastModified: lm}

	cases := []struct {
		inm  string
		ims  time.Time
		want bool
	}{
		{`"abc"`, time.Time{}, true},
		{`W/"abc"`, time.Time{}, true},
		{`"x", "abc"`, time.Time{}, true},
		{"*", time.Time{}, true},
		{`"other"`, lm.Add(time.Hour), false},
		{"", lm.Truncate(time.Second), true},
		{"", lm.Add(-time.Second), false},
		{"", time.Time{}, false},
	}
	for _, tc := range cases {
		if got := md.NotModified(tc.inm, tc.ims); got != tc.want {
			t.Fatalf("NotModified(%q, %v) = %v, want %v", tc.inm, tc.ims, got, tc.want)
		}
	}
}
