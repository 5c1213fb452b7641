package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ModeFree is the session mode recorded for transcripts produced by the
// long-form pipeline.
const ModeFree = "free"

// SessionInput is the input for creating a dialogue session.
type SessionInput struct {
	UserID string
	Title  string
	Mode   string
}

// Session is a stored dialogue session.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSession inserts a session and returns its generated id.
func (db *DB) CreateSession(ctx context.Context, in SessionInput) (string, error) {
	mode := in.Mode
	if mode == "" {
		mode = ModeFree
	}
	var id string
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO sessions (user_id, title, mode)
		 VALUES (NULLIF($1, ''), $2, $3)
		 RETURNING id::text`,
		in.UserID, in.Title, mode,
	).Scan(&id)
	return id, err
}

// GetSession loads one session by id. A missing session is ErrNotFound.
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	var userID *string
	err := db.Pool.QueryRow(ctx,
		`SELECT id::text, user_id, title, mode, created_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &userID, &s.Title, &s.Mode, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID != nil {
		s.UserID = *userID
	}
	return &s, nil
}
