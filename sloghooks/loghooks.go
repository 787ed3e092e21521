// Package sloghooks reports bindcache events through log/slog.
// Storage keys are redacted; noisy events can be sampled.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/bindcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	EmptyEvery    uint64
	RotateEvery   uint64
	// Lookups are counted, not logged, unless LogLookups is set.
	LogLookups bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	// Index strings are logged verbatim; they only carry class and identity value.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	emptyCtr    atomic.Uint64
	rotateCtr   atomic.Uint64
}

var _ bindcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Lookup(hit bool) {
	if h.l == nil || !h.opts.LogLookups {
		return
	}
	h.l.Debug("bindcache.lookup", "hit", hit)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("bindcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) EmptyEvicted(storageKey string) {
	if h.l == nil || !sample(h.opts.EmptyEvery, &h.emptyCtr) {
		return
	}
	h.l.Debug("bindcache.empty_evicted", "key", h.redact(storageKey))
}

func (h *Hooks) IndexRotated(index string) {
	if h.l == nil || !sample(h.opts.RotateEvery, &h.rotateCtr) {
		return
	}
	h.l.Info("bindcache.index_rotated", "index", index)
}

func (h *Hooks) RotateError(index string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("bindcache.rotate_error",
		"index", index,
		"err", err)
}

func (h *Hooks) TokenError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("bindcache.token_error",
		"count", count,
		"err", err)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("bindcache.provider_set_rejected", "key", h.redact(storageKey))
}
