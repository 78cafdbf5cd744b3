// Package storage provides the shared key-value store the handle service
// coordinates through, with memory, Redis and PostgreSQL backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// Standard error values used across storage implementations
var (
	// ErrNotFound indicates the requested key does not exist or has expired.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable indicates the backend refused the call without trying it.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the set of primitives the registry and the rate governor rely on.
// SetIfAbsent and IncrementWithExpiry must each be a single atomic operation
// in the backend; callers never emulate them with a read followed by a write.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// SetIfAbsent writes value only when key holds no live value and reports
	// whether the write happened. A zero ttl means the value never expires.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// AddToSet adds member to the set under key. Duplicate adds are no-ops.
	AddToSet(ctx context.Context, key, member string) error
	// SetMembers lists the members of the set under key in no particular order.
	SetMembers(ctx context.Context, key string) ([]string, error)
	// IncrementWithExpiry increments the counter under key and returns the new
	// value. A missing or expired counter starts at 1 and expires after ttl.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
