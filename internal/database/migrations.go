package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
//
// schema.sql already creates everything listed here, so on a fresh database
// every check passes and nothing runs. The entries bring up to date the
// sessions, transcripts and system_logs tables created by the earlier hosted
// Supabase schema, which lacked these columns and indexes. New schema
// changes go in both places.
var migrations = []migration{
	{
		name:  "add system_logs.level",
		sql:   `ALTER TABLE system_logs ADD COLUMN IF NOT EXISTS level text NOT NULL DEFAULT 'info'`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'system_logs' AND column_name = 'level')`,
	},
	{
		name:  "add sessions.user_id",
		sql:   `ALTER TABLE sessions ADD COLUMN IF NOT EXISTS user_id text`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'sessions' AND column_name = 'user_id')`,
	},
	{
		name:  "add transcripts session index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts (session_id, transcript_index)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_transcripts_session')`,
	},
	{
		name:  "add system_logs session index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_system_logs_session ON system_logs (session_id, created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_system_logs_session')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. If the apply fails (e.g. insufficient
// privileges), the error is returned. Callers treat this as fatal since
// the completion and worker queries depend on these columns existing.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	// Try to apply each pending migration
	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart stt-server.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
