// Package limiter defines interfaces and implementations for sign-in rate limiting.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls sign-in attempts and temporary lockouts per (email, source).
type Limiter interface {
	// Allow reports whether sign-in is currently allowed and optional retry-after.
	Allow(ctx context.Context, email string, sourceHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful sign-in.
	Success(ctx context.Context, email string, sourceHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, email string, sourceHash []byte) (bool, time.Duration, error)
}

// HashSource returns a stable hash of a peer address so raw addresses are never stored.
func HashSource(addr string) []byte {
	h := sha256.Sum256([]byte(addr))
	return h[:]
}
