// Package registry maps index strings to generation tokens.
//
// A token is created lazily on first read and replaced on Rotate. Every cache key
// derived from an index embeds its current token, so rotating it makes all of
// those keys unreachable without touching them.
package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Registry abstracts where generation tokens live.
// Use Store (default) to keep them next to cached values, Local for in-process
// tokens, or Redis for a dedicated shared keyspace.
type Registry interface {
	// Token returns the current token for index, creating it if absent.
	// Two racing first reads must agree on one token.
	Token(ctx context.Context, index string) (string, error)
	// Tokens returns tokens for many indexes, in the same order.
	Tokens(ctx context.Context, indexes []string) ([]string, error)
	// Rotate unconditionally replaces the token and returns the new one.
	Rotate(ctx context.Context, index string) (string, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}

// ErrTokenVanished reports that a shared token kept disappearing between its
// creation and the read that should have returned it.
var ErrTokenVanished = errors.New("registry: token vanished during creation")

// TokenFunc mints a fresh, effectively unique token.
type TokenFunc func() string

// NewToken is the default TokenFunc (random UUIDv4).
func NewToken() string { return uuid.NewString() }
