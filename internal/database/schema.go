package database

import "context"

// InitSchema applies the full schema on a fresh database.
// The "sessions" table stands in for the whole schema: if it is missing the
// embedded SQL is executed, otherwise this is a no-op.
func (db *DB) InitSchema(ctx context.Context, schemaSQL []byte) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'sessions')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	if _, err := db.Pool.Exec(ctx, string(schemaSQL)); err != nil {
		return err
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}
