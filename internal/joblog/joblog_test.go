package joblog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dialoguelab/dialogue-stt/internal/database"
	"github.com/rs/zerolog"
)

type fakeSink struct {
	logs []database.SystemLog
	err  error
}

func (f *fakeSink) InsertSystemLog(_ context.Context, l database.SystemLog) error {
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, l)
	return nil
}

func TestLoggerPersists(t *testing.T) {
	sink := &fakeSink{}
	l := New(zerolog.Nop(), sink, "abc123", "stt-worker")

	l.Info(context.Background(), "Chunks downloaded", map[string]any{"count": 3})
	l.Error(context.Background(), "Worker failed", errors.New("boom"), nil)

	if len(sink.logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(sink.logs))
	}
	first := sink.logs[0]
	if first.SessionID != "abc123" || first.Source != "stt-worker" || first.Level != LevelInfo {
		t.Errorf("first = %+v", first)
	}
	var meta map[string]any
	if err := json.Unmarshal(first.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["count"] != float64(3) {
		t.Errorf("count = %v, want 3", meta["count"])
	}

	second := sink.logs[1]
	if second.Level != LevelError || !strings.Contains(string(second.Metadata), "boom") {
		t.Errorf("second = %+v", second)
	}
}

func TestLoggerSinkFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	sink := &fakeSink{err: errors.New("connection refused")}
	l := New(zerolog.New(&buf), sink, "s1", "stt-worker")

	l.Info(context.Background(), "Worker started", nil)

	out := buf.String()
	if !strings.Contains(out, "Worker started") {
		t.Errorf("missing primary log line: %s", out)
	}
	if !strings.Contains(out, "system log write failed") {
		t.Errorf("missing sink failure warning: %s", out)
	}
}

func TestLoggerNilSink(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf), nil, "s1", "stt-worker")
	l.Info(context.Background(), "Merge complete", map[string]any{"strategy": "copy"})
	if !strings.Contains(buf.String(), `"session_id":"s1"`) {
		t.Errorf("log missing session id: %s", buf.String())
	}
}

func TestLoggerCancelledContextStillPersists(t *testing.T) {
	sink := &fakeSink{}
	l := New(zerolog.Nop(), sink, "s1", "stt-worker")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Error(ctx, "Worker failed", context.Canceled, nil)
	if len(sink.logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(sink.logs))
	}
}
