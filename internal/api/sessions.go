package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dialoguelab/dialogue-stt/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
)

// SessionReader loads completed sessions. *database.DB implements it.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*database.Session, error)
	ListTranscripts(ctx context.Context, sessionID string) ([]database.TranscriptRow, error)
}

type TranscriptResponse struct {
	Speaker   string  `json:"speaker"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
	Index     int     `json:"index"`
}

type SessionResponse struct {
	database.Session
	Transcripts []TranscriptResponse `json:"transcripts"`
}

// SessionHandler serves GET /api/stt/sessions/{id}.
type SessionHandler struct {
	db SessionReader
}

func NewSessionHandler(db SessionReader) *SessionHandler {
	return &SessionHandler{db: db}
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	s, err := h.db.GetSession(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("session_id", id).Msg("session lookup failed")
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rows, err := h.db.ListTranscripts(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("session_id", id).Msg("transcript lookup failed")
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := SessionResponse{Session: *s, Transcripts: make([]TranscriptResponse, len(rows))}
	for i, row := range rows {
		resp.Transcripts[i] = TranscriptResponse{
			Speaker:   row.Speaker,
			Content:   row.Content,
			Timestamp: row.Timestamp,
			Index:     row.Index,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}
