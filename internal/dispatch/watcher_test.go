package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingQueue struct {
	mu   sync.Mutex
	reqs []Request
	sent chan Request
}

func (q *recordingQueue) Submit(_ context.Context, req Request) (<-chan Outcome, error) {
	q.mu.Lock()
	q.reqs = append(q.reqs, req)
	q.mu.Unlock()
	q.sent <- req
	ch := make(chan Outcome, 1)
	ch <- Outcome{Stdout: []byte(`{"chunkCount":1}`)}
	return ch, nil
}

func TestManifestWatcherDispatchesNewManifest(t *testing.T) {
	dir := t.TempDir()
	q := &recordingQueue{sent: make(chan Request, 4)}
	mw := NewManifestWatcher(q, dir, zerolog.Nop())
	if err := mw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mw.Stop()

	prefixDir := filepath.Join(dir, "recordings", "abc")
	if err := os.MkdirAll(prefixDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(prefixDir, "chunk-00000.webm"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest := `{"version":1,"prefix":"recordings/abc","chunkCount":1}`
	if err := os.WriteFile(filepath.Join(prefixDir, "manifest.json"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case req := <-q.sent:
		if req.Prefix != "recordings/abc" || req.Source != "watcher" {
			t.Errorf("request = %+v", req)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manifest was never dispatched")
	}

	// Debounced Create+Write on one file yields a single job.
	time.Sleep(2 * manifestDebounce)
	q.mu.Lock()
	n := len(q.reqs)
	q.mu.Unlock()
	if n != 1 {
		t.Errorf("dispatched %d times, want 1", n)
	}
}

func TestManifestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	q := &recordingQueue{sent: make(chan Request, 4)}
	mw := NewManifestWatcher(q, dir, zerolog.Nop())
	if err := mw.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer mw.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case req := <-q.sent:
		t.Fatalf("unexpected dispatch %+v", req)
	case <-time.After(3 * manifestDebounce):
	}
}

func TestPrefixForFallsBackToDirectory(t *testing.T) {
	dir := t.TempDir()
	mw := NewManifestWatcher(&recordingQueue{}, dir, zerolog.Nop())
	path := filepath.Join(dir, "recordings", "xyz", "manifest.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"version":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := mw.prefixFor(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "recordings/xyz" {
		t.Errorf("prefix = %q, want recordings/xyz", got)
	}
}
