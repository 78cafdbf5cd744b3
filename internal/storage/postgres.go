package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres implements Store on PostgreSQL. Atomicity comes from single
// INSERT ... ON CONFLICT statements; expiry is evaluated against the
// database clock.
type Postgres struct {
	pool    pgxPool
	timeout time.Duration
}

// NewPostgres creates a Store backed by a pgx connection pool and checks the
// connection before returning.
//
// Connection pool configuration:
// - Max 25 connections to prevent overwhelming the database
// - Min 2 connections to maintain a warm pool
// - 5-minute lifetime and idle time to prevent stale connections
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return newPostgres(pool), nil
}

func newPostgres(pool pgxPool) *Postgres {
	return &Postgres{pool: pool, timeout: 10 * time.Second}
}

// Migrate applies the schema. See MigratePostgres.
func (p *Postgres) Migrate(ctx context.Context) error {
	return MigratePostgres(ctx, p.pool)
}

// Get returns the live value under key.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const q = `SELECT value FROM kv_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`
	var value []byte
	if err := p.pool.QueryRow(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return value, nil
}

// SetIfAbsent inserts the entry, or replaces it only when the existing one
// has expired. One row affected means the write happened.
func (p *Postgres) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const q = `INSERT INTO kv_entries (key, value, expires_at)
VALUES ($1, $2, CASE WHEN $3::double precision > 0 THEN now() + make_interval(secs => $3) END)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= now()`
	tag, err := p.pool.Exec(ctx, q, key, value, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddToSet inserts the (key, member) pair, ignoring duplicates.
func (p *Postgres) AddToSet(ctx context.Context, key, member string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const q = `INSERT INTO kv_set_members (key, member) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := p.pool.Exec(ctx, q, key, member); err != nil {
		return fmt.Errorf("insert set member: %w", err)
	}
	return nil
}

// SetMembers lists the members of the set under key.
func (p *Postgres) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const q = `SELECT member FROM kv_set_members WHERE key = $1 ORDER BY member`
	rows, err := p.pool.Query(ctx, q, key)
	if err != nil {
		return nil, fmt.Errorf("query set members: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan set members: %w", err)
	}
	return members, nil
}

// IncrementWithExpiry upserts the counter, restarting it when its window has
// elapsed, and returns the new count in the same statement.
func (p *Postgres) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	const q = `INSERT INTO kv_counters (key, count, expires_at)
VALUES ($1, 1, now() + make_interval(secs => $2))
ON CONFLICT (key) DO UPDATE SET
	count = CASE WHEN kv_counters.expires_at <= now() THEN 1 ELSE kv_counters.count + 1 END,
	expires_at = CASE WHEN kv_counters.expires_at <= now() THEN EXCLUDED.expires_at ELSE kv_counters.expires_at END
RETURNING count`
	var count int64
	if err := p.pool.QueryRow(ctx, q, key, ttl.Seconds()).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return count, nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
