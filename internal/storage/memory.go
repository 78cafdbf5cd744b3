package storage

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// Memory is a process-local Store. Every primitive runs under one mutex, so
// the atomicity guarantees hold within a single process only.
type Memory struct {
	mu       sync.Mutex
	clock    func() time.Time
	entries  map[string]memoryEntry
	sets     map[string]map[string]struct{}
	counters map[string]memoryCounter
}

// NewMemory returns a concurrency-safe in-memory implementation of Store.
// Useful for tests, demos, or as a default ephemeral backend.
func NewMemory() *Memory {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock is NewMemory with an injected time source for expiry.
func NewMemoryWithClock(clock func() time.Time) *Memory {
	return &Memory{
		clock:    clock,
		entries:  make(map[string]memoryEntry),
		sets:     make(map[string]map[string]struct{}),
		counters: make(map[string]memoryCounter),
	}
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

// Get returns a copy of the live value under key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || expired(e.expiresAt, m.clock()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// SetIfAbsent stores value unless a live entry already exists.
func (m *Memory) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if e, ok := m.entries[key]; ok && !expired(e.expiresAt, now) {
		return false, nil
	}
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[key] = e
	return true, nil
}

// AddToSet adds member to the set under key.
func (m *Memory) AddToSet(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

// SetMembers lists the members of the set under key.
func (m *Memory) SetMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	return out, nil
}

// IncrementWithExpiry bumps the counter under key, restarting it once its
// window has elapsed.
func (m *Memory) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	c, ok := m.counters[key]
	if !ok || expired(c.expiresAt, now) {
		c = memoryCounter{expiresAt: now.Add(ttl)}
	}
	c.count++
	m.counters[key] = c
	return c.count, nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }
