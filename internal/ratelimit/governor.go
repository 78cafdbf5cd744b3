// Package ratelimit bounds how often a caller identity may attempt an action.
// Counters live in the shared store so every process sees the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/storage"
)

// Defaults used for claim attempts.
const (
	DefaultLimit  = 20
	DefaultWindow = 60 * time.Second
)

// Governor is a fixed-window counter per (action, identity). The window
// starts at the first attempt of a burst and restarts fully once it elapses,
// which approximates a sliding window without per-request bookkeeping.
type Governor struct {
	store  storage.Store
	action string
	limit  int64
	window time.Duration
}

// New returns a Governor for action. Non-positive limit or window fall back
// to the defaults.
func New(store storage.Store, action string, limit int, window time.Duration) *Governor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Governor{store: store, action: action, limit: int64(limit), window: window}
}

// Allow records an attempt by identity and reports whether it is within
// budget. Rejected attempts still count. When the store fails the attempt is
// denied and the error returned.
func (g *Governor) Allow(ctx context.Context, identity string) (bool, error) {
	return Allow(ctx, g.store, g.action, identity, g.limit, g.window)
}

// Limit returns the configured attempts per window.
func (g *Governor) Limit() int64 { return g.limit }

// Window returns the configured window.
func (g *Governor) Window() time.Duration { return g.window }

// Allow is the stateless form of Governor.Allow.
func Allow(ctx context.Context, store storage.Store, action, identity string, limit int64, window time.Duration) (bool, error) {
	n, err := store.IncrementWithExpiry(ctx, Key(action, identity), window)
	if err != nil {
		return false, fmt.Errorf("rate counter: %w", err)
	}
	return n <= limit, nil
}

// Key is the store key of the counter for (action, identity).
func Key(action, identity string) string {
	return "ratelimit:" + action + ":" + identity
}
