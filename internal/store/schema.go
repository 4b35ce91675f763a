package store

import (
	"context"
	"fmt"
)

// Timestamps are stored as UTC unix nanoseconds so both drivers compare
// them the same way.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id          TEXT PRIMARY KEY,
		handle      TEXT NOT NULL,
		enabled     BOOLEAN NOT NULL,
		settings    TEXT NOT NULL,
		created_at  BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS candidates (
		account_id      TEXT NOT NULL,
		id              TEXT NOT NULL,
		source          TEXT NOT NULL,
		format          TEXT NOT NULL,
		topic           TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      BIGINT NOT NULL,
		has_link        BOOLEAN NOT NULL,
		thread_eligible BOOLEAN NOT NULL,
		score           DOUBLE PRECISION NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		consumed        BOOLEAN NOT NULL,
		consumed_at     BIGINT,
		PRIMARY KEY (account_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candidates_unconsumed
		ON candidates (account_id, consumed, created_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL,
		published_at  BIGINT NOT NULL,
		format        TEXT NOT NULL,
		topic         TEXT NOT NULL,
		has_link      BOOLEAN NOT NULL,
		thread_length INTEGER NOT NULL,
		decision_id   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_account_time
		ON ledger_entries (account_id, published_at)`,
}

// Migrate creates missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
