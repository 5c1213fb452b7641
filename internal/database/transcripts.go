package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TranscriptRow is the input for inserting one transcript row.
// Timestamp is the start offset in seconds, 0 when the provider has no timing.
type TranscriptRow struct {
	SessionID string
	Speaker   string
	Content   string
	Timestamp float64
	Index     int
}

// InsertTranscripts batch-inserts transcript rows using CopyFrom.
func (db *DB) InsertTranscripts(ctx context.Context, rows []TranscriptRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		copyRows[i] = []any{r.SessionID, r.Speaker, r.Content, r.Timestamp, r.Index}
	}

	return db.Pool.CopyFrom(ctx,
		pgx.Identifier{"transcripts"},
		[]string{"session_id", "speaker", "content", "timestamp", "transcript_index"},
		pgx.CopyFromRows(copyRows),
	)
}

// ListTranscripts returns a session's rows in index order.
func (db *DB) ListTranscripts(ctx context.Context, sessionID string) ([]TranscriptRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT session_id::text, speaker, content, "timestamp", transcript_index
		 FROM transcripts WHERE session_id = $1 ORDER BY transcript_index`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TranscriptRow
	for rows.Next() {
		var r TranscriptRow
		if err := rows.Scan(&r.SessionID, &r.Speaker, &r.Content, &r.Timestamp, &r.Index); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
