package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// SystemLog is a diagnostic record correlated by session id. Workers write
// one per stage; the Clova webhook stores its payload as one.
type SystemLog struct {
	SessionID string          `json:"session_id"`
	Source    string          `json:"source"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// InsertSystemLog writes one system log row.
func (db *DB) InsertSystemLog(ctx context.Context, l SystemLog) error {
	level := l.Level
	if level == "" {
		level = "info"
	}
	var meta any
	if len(l.Metadata) > 0 {
		meta = l.Metadata
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO system_logs (session_id, source, level, message, metadata)
		 VALUES ($1, $2, $3, $4, $5)`,
		l.SessionID, l.Source, level, l.Message, meta,
	)
	return err
}

// LatestSystemLog returns the most recent log for sessionID, or ErrNotFound.
func (db *DB) LatestSystemLog(ctx context.Context, sessionID string) (*SystemLog, error) {
	var l SystemLog
	err := db.Pool.QueryRow(ctx,
		`SELECT session_id, source, level, message, metadata, created_at
		 FROM system_logs WHERE session_id = $1
		 ORDER BY created_at DESC LIMIT 1`,
		sessionID,
	).Scan(&l.SessionID, &l.Source, &l.Level, &l.Message, &l.Metadata, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
