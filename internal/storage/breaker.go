package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Circuit breaker configuration defaults
const (
	DefaultBreakerMaxRequests  = 3
	DefaultBreakerInterval     = 10 * time.Second
	DefaultBreakerTimeout      = 30 * time.Second
	DefaultBreakerMinRequests  = 5
	DefaultBreakerFailureRatio = 0.6
)

// Breaker wraps a Store with a circuit breaker. While open, every call fails
// fast with ErrUnavailable instead of waiting on a dead backend.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// BreakerStateFunc observes breaker transitions.
type BreakerStateFunc func(name string, from, to gobreaker.State)

// NewBreaker wraps next. onChange may be nil.
func NewBreaker(next Store, logger *slog.Logger, onChange BreakerStateFunc) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: DefaultBreakerMaxRequests,
		Interval:    DefaultBreakerInterval,
		Timeout:     DefaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= DefaultBreakerMinRequests && failureRatio >= DefaultBreakerFailureRatio
		},
		// a miss or a caller cancellation says nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if onChange != nil {
				onChange(name, from, to)
			}
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if v, ok := out.(T); ok {
			return v, err
		}
		return zero, err
	}
	return out.(T), nil
}

// Get runs Store.Get through the breaker.
func (b *Breaker) Get(ctx context.Context, key string) ([]byte, error) {
	return execute(b, func() ([]byte, error) { return b.next.Get(ctx, key) })
}

// SetIfAbsent runs Store.SetIfAbsent through the breaker.
func (b *Breaker) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return execute(b, func() (bool, error) { return b.next.SetIfAbsent(ctx, key, value, ttl) })
}

// AddToSet runs Store.AddToSet through the breaker.
func (b *Breaker) AddToSet(ctx context.Context, key, member string) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.next.AddToSet(ctx, key, member) })
	return err
}

// SetMembers runs Store.SetMembers through the breaker.
func (b *Breaker) SetMembers(ctx context.Context, key string) ([]string, error) {
	return execute(b, func() ([]string, error) { return b.next.SetMembers(ctx, key) })
}

// IncrementWithExpiry runs Store.IncrementWithExpiry through the breaker.
func (b *Breaker) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return execute(b, func() (int64, error) { return b.next.IncrementWithExpiry(ctx, key, ttl) })
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

// Close closes the wrapped store.
func (b *Breaker) Close() error {
	return b.next.Close()
}
