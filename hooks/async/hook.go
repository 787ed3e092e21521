// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := bindcache.New[Widget](bindcache.Options[Widget]{
//	    Namespace: "app:prod",
//	    Provider:  provider,
//	    Codec:     codec.JSON[Widget]{},
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/bindcache"
)

// Hooks moves event delivery off the hot path. Events are dropped when the
// queue is full; Dropped reports how many.
type Hooks struct {
	inner   bindcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ bindcache.Hooks = (*Hooks)(nil)

func New(inner bindcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events. Events sent after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Lookup(hit bool)                 { h.try(func() { h.inner.Lookup(hit) }) }
func (h *Hooks) SelfHeal(k, r string)            { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) EmptyEvicted(k string)           { h.try(func() { h.inner.EmptyEvicted(k) }) }
func (h *Hooks) IndexRotated(idx string)         { h.try(func() { h.inner.IndexRotated(idx) }) }
func (h *Hooks) RotateError(idx string, e error) { h.try(func() { h.inner.RotateError(idx, e) }) }
func (h *Hooks) TokenError(n int, err error)     { h.try(func() { h.inner.TokenError(n, err) }) }
func (h *Hooks) ProviderSetRejected(k string)    { h.try(func() { h.inner.ProviderSetRejected(k) }) }
