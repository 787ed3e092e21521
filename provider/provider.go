// Package provider defines the backing store contract used by bindcache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously stored for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// The keyspaces "INDEX:" (generation tokens), the opaque cache keys and their
// ":meta" siblings are owned by bindcache. External code MUST NOT write values
// under them; foreign writes are treated as corruption and deleted on read.
package provider

import (
	"context"
	"time"
)

// WriteOptions carry per-write store options. They are produced by the cache's
// option providers before reaching the store.
type WriteOptions struct {
	// TTL <= 0 means "no expiry" (or the store's own default window).
	TTL time.Duration
	// Cost is passed to cost-aware stores; others ignore it.
	Cost int64
}

// CreateFunc produces the value stored on a FetchOrCreate miss.
// Returning an error aborts the call and nothing is stored.
type CreateFunc func(ctx context.Context) ([]byte, error)

// Provider is a minimal byte store with TTLs and an atomic fetch-or-create.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// FetchOrCreate returns the value stored under key. On a miss it calls create
	// and stores the result. Two racing misses must converge on one stored value;
	// the loser receives the winner's value. created reports whether the returned
	// value is the one produced by this call's create.
	//
	// Whether create can run concurrently for the same key depends on the store:
	// in-process stores serialize it, remote stores may not.
	FetchOrCreate(ctx context.Context, key string, opts WriteOptions, create CreateFunc) (value []byte, created bool, err error)

	// Set stores value unconditionally.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, opts WriteOptions) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
