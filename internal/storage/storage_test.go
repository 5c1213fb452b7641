package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocalStore_PutListOpen(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir(), "audio-uploads")

	for _, key := range []string{
		"recordings/abc/chunk-00001.webm",
		"recordings/abc/chunk-00000.webm",
		"recordings/abc/manifest.json",
	} {
		if err := s.Put(ctx, key, strings.NewReader(key), int64(len(key)), "audio/webm"); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	// Upsert overwrites
	if err := s.Put(ctx, "recordings/abc/manifest.json", strings.NewReader("{}"), 2, "application/json"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	objs, err := s.List(ctx, "recordings/abc")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, o := range objs {
		names = append(names, o.Name)
	}
	want := "chunk-00000.webm,chunk-00001.webm,manifest.json"
	if strings.Join(names, ",") != want {
		t.Errorf("List = %v, want %s", names, want)
	}

	b, err := ReadAll(ctx, s, "recordings/abc/manifest.json")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "{}" {
		t.Errorf("manifest = %q, want {}", b)
	}
}

func TestLocalStore_Missing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir(), "b")

	objs, err := s.List(ctx, "recordings/none")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 0 {
		t.Errorf("List = %v, want empty", objs)
	}

	_, err = s.Open(ctx, "recordings/none/chunk-00000.webm")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Open err = %v, want ErrNotFound", err)
	}
}

func TestSupabaseStore(t *testing.T) {
	var uploaded []string
	var upsertHeader, authHeader string

	mux := http.NewServeMux()
	mux.HandleFunc("/storage/v1/object/list/audio-uploads", func(w http.ResponseWriter, r *http.Request) {
		var req supabaseListRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Prefix != "recordings/abc" || req.Limit != ListPageSize {
			t.Errorf("list request = %+v", req)
		}
		id := "x"
		json.NewEncoder(w).Encode([]supabaseListEntry{
			{Name: "manifest.json", ID: &id},
			{Name: "chunk-00001.webm", ID: &id},
			{Name: "chunk-00000.webm", ID: &id},
			{Name: "nested"},
		})
	})
	mux.HandleFunc("/storage/v1/object/audio-uploads/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			upsertHeader = r.Header.Get("x-upsert")
			authHeader = r.Header.Get("Authorization")
			io.Copy(io.Discard, r.Body)
			uploaded = append(uploaded, strings.TrimPrefix(r.URL.Path, "/storage/v1/object/audio-uploads/"))
			w.Write([]byte(`{"Key":"ok"}`))
		case http.MethodGet:
			if strings.HasSuffix(r.URL.Path, "missing.webm") {
				http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
				return
			}
			w.Write([]byte("audio-bytes"))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	s := NewSupabaseStore(srv.URL+"/", "service-key", "audio-uploads", srv.Client())

	if err := s.Put(ctx, "recordings/abc/chunk-00000.webm", bytes.NewReader([]byte("a")), 1, "audio/webm"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(uploaded) != 1 || uploaded[0] != "recordings/abc/chunk-00000.webm" {
		t.Errorf("uploaded = %v", uploaded)
	}
	if upsertHeader != "true" {
		t.Errorf("x-upsert = %q, want true", upsertHeader)
	}
	if authHeader != "Bearer service-key" {
		t.Errorf("Authorization = %q", authHeader)
	}

	objs, err := s.List(ctx, "recordings/abc/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 3 || objs[0].Name != "chunk-00000.webm" || objs[2].Name != "manifest.json" {
		t.Errorf("List = %+v", objs)
	}

	b, err := ReadAll(ctx, s, "recordings/abc/chunk-00000.webm")
	if err != nil || string(b) != "audio-bytes" {
		t.Errorf("ReadAll = %q, %v", b, err)
	}

	_, err = s.Open(ctx, "recordings/abc/missing.webm")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Open missing err = %v, want ErrNotFound", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Errorf("Open missing err = %v, want *StatusError 404", err)
	}
}

func TestSupabaseStore_UploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "k", "b", srv.Client())
	err := s.Put(context.Background(), "p/chunk-00000.webm", strings.NewReader("x"), 1, "audio/webm")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusInsufficientStorage {
		t.Fatalf("Put err = %v, want *StatusError 507", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("507 must not match ErrNotFound")
	}
}

func TestScratchPruner(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, ScratchPrefix+"old")
	fresh := filepath.Join(root, ScratchPrefix+"fresh")
	other := filepath.Join(root, "unrelated")
	for _, d := range []string{old, fresh, other} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
		os.WriteFile(filepath.Join(d, "merged.webm"), []byte("data"), 0o644)
	}
	past := time.Now().Add(-48 * time.Hour)
	os.Chtimes(old, past, past)
	os.Chtimes(other, past, past)

	p := NewScratchPruner(root, 6*time.Hour, zerolog.Nop())
	if n := p.Prune(); n != 1 {
		t.Errorf("Prune = %d, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old scratch dir still exists")
	}
	for _, d := range []string{fresh, other} {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("%s removed: %v", d, err)
		}
	}
}

func TestHumanizeBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := humanizeBytes(tt.in); got != tt.want {
			t.Errorf("humanizeBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
