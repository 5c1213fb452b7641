// Package joblog writes job-correlated diagnostics to zerolog and, when a
// database is configured, to the system_logs table.
package joblog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/database"
	"github.com/rs/zerolog"
)

const (
	LevelInfo  = "info"
	LevelError = "error"
)

const sinkTimeout = 5 * time.Second

// Sink persists system log rows. *database.DB implements it.
type Sink interface {
	InsertSystemLog(ctx context.Context, l database.SystemLog) error
}

// Logger records diagnostics for one session. A nil sink logs to zerolog only.
type Logger struct {
	log       zerolog.Logger
	sink      Sink
	sessionID string
	source    string
}

func New(log zerolog.Logger, sink Sink, sessionID, source string) *Logger {
	return &Logger{
		log:       log.With().Str("session_id", sessionID).Logger(),
		sink:      sink,
		sessionID: sessionID,
		source:    source,
	}
}

func (l *Logger) SessionID() string { return l.sessionID }

func (l *Logger) Info(ctx context.Context, msg string, meta map[string]any) {
	l.log.Info().Fields(meta).Msg(msg)
	l.persist(ctx, LevelInfo, msg, meta)
}

// Error logs msg with err attached to both outputs.
func (l *Logger) Error(ctx context.Context, msg string, err error, meta map[string]any) {
	if err != nil {
		merged := make(map[string]any, len(meta)+1)
		for k, v := range meta {
			merged[k] = v
		}
		merged["error"] = err.Error()
		meta = merged
	}
	l.log.Error().Fields(meta).Msg(msg)
	l.persist(ctx, LevelError, msg, meta)
}

func (l *Logger) persist(ctx context.Context, level, msg string, meta map[string]any) {
	if l.sink == nil {
		return
	}
	var raw json.RawMessage
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			l.log.Warn().Err(err).Str("message", msg).Msg("system log metadata not serializable")
		} else {
			raw = b
		}
	}

	// Persist even when the job context is already cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	err := l.sink.InsertSystemLog(ctx, database.SystemLog{
		SessionID: l.sessionID,
		Source:    l.source,
		Level:     level,
		Message:   msg,
		Metadata:  raw,
	})
	if err != nil {
		l.log.Warn().Err(err).Str("message", msg).Msg("system log write failed")
	}
}
