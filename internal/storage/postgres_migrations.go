package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MigratePostgres applies schema migrations to the PostgreSQL database.
// Uses IF NOT EXISTS clauses to make migrations idempotent.
//
// Tables created:
// - kv_entries: single values (handle records, idempotency cache)
// - kv_set_members: set membership (reverse index)
// - kv_counters: expiring counters (rate windows)
func MigratePostgres(ctx context.Context, db execer) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
            key TEXT PRIMARY KEY,
            value BYTEA NOT NULL,
            expires_at TIMESTAMPTZ          -- NULL means permanent
        )`,
		`CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries (expires_at) WHERE expires_at IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS kv_set_members (
            key TEXT NOT NULL,
            member TEXT NOT NULL,
            PRIMARY KEY (key, member)
        )`,
		`CREATE TABLE IF NOT EXISTS kv_counters (
            key TEXT PRIMARY KEY,
            count BIGINT NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_kv_counters_expires_at ON kv_counters (expires_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
