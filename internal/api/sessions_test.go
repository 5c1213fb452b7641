package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/database"
	"github.com/rs/zerolog"
)

const testSessionID = "6f1c2d8e-4b7a-4e21-9f3a-0c5d7e9b1a24"

type fakeSessions struct{}

func (fakeSessions) GetSession(_ context.Context, id string) (*database.Session, error) {
	if id != testSessionID {
		return nil, database.ErrNotFound
	}
	return &database.Session{ID: id, Title: "Standup", Mode: database.ModeFree, CreatedAt: time.Unix(0, 0).UTC()}, nil
}

func (fakeSessions) ListTranscripts(_ context.Context, id string) ([]database.TranscriptRow, error) {
	return []database.TranscriptRow{
		{SessionID: id, Speaker: "Participant 1", Content: "hello", Timestamp: 0, Index: 0},
		{SessionID: id, Speaker: "Participant 2", Content: "hi", Timestamp: 1.5, Index: 1},
	}, nil
}

func TestSessionRoute(t *testing.T) {
	stt := newTestHandler(&fakeStore{}, Providers{}, "")
	health := NewHealthHandler(fakePinger{}, nil, Providers{}, "test", time.Now())
	r := NewRouter("", stt, NewSessionHandler(fakeSessions{}), health, zerolog.Nop())

	tests := []struct {
		name string
		id   string
		want int
	}{
		{"found", testSessionID, http.StatusOK},
		{"unknown", "00000000-0000-4000-8000-000000000000", http.StatusNotFound},
		{"malformed", "not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/stt/sessions/"+tt.id, nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var resp SessionResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.ID != testSessionID || len(resp.Transcripts) != 2 {
				t.Errorf("resp = %+v", resp)
			}
			if resp.Transcripts[1].Speaker != "Participant 2" || resp.Transcripts[1].Index != 1 {
				t.Errorf("row 1 = %+v", resp.Transcripts[1])
			}
		})
	}
}
