package chunks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"testing"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/storage"
)

// memStore is an in-memory ObjectStore that records put order.
type memStore struct {
	objects map[string][]byte
	types   map[string]string
	order   []string
	failAt  string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	if key == m.failAt {
		return errors.New("storage unavailable")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(b), size)
	}
	m.objects[key] = b
	m.types[key] = contentType
	m.order = append(m.order, key)
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]storage.Object, error) {
	return nil, nil
}

func (m *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Bucket() string { return "audio-uploads" }
func (m *memStore) Type() string   { return "mem" }

func TestChunkName(t *testing.T) {
	if got := ChunkName(0); got != "chunk-00000.webm" {
		t.Errorf("ChunkName(0) = %q", got)
	}
	if got := ChunkKey("recordings/abc/", 12); got != "recordings/abc/chunk-00012.webm" {
		t.Errorf("ChunkKey = %q", got)
	}
	// lexicographic order equals index order
	for i := 0; i < 1200; i++ {
		if ChunkName(i) >= ChunkName(i+1) {
			t.Fatalf("ChunkName(%d) >= ChunkName(%d)", i, i+1)
		}
	}
}

func TestMimeTypeFor(t *testing.T) {
	// Hosts disagree on .webm (video/webm, or nothing); pin another
	// extension so the table lookup path is deterministic.
	if err := mime.AddExtensionType(".flac", "audio/flac"); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		want string
	}{
		{"practice.webm", DefaultMimeType},
		{"PRACTICE.WEBM", DefaultMimeType},
		{"take.flac", "audio/flac"},
		{"recording", DefaultMimeType},
		{"notes.unknownext", DefaultMimeType},
	}
	for _, tt := range tests {
		if got := MimeTypeFor(tt.name); got != tt.want {
			t.Errorf("MimeTypeFor(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size, chunk int64
		want        int
	}{
		{0, DefaultChunkSize, 0},
		{1, DefaultChunkSize, 1},
		{DefaultChunkSize, DefaultChunkSize, 1},
		{DefaultChunkSize + 1, DefaultChunkSize, 2},
		{10 * 1024 * 1024, DefaultChunkSize, 3},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.size, tt.chunk); got != tt.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.size, tt.chunk, got, tt.want)
		}
	}
}

func TestUploadInChunks(t *testing.T) {
	const size = 10 * 1024 * 1024
	blob := bytes.Repeat([]byte{0xAB}, size)
	for i := range blob {
		blob[i] = byte(i % 251)
	}
	store := newMemStore()
	var progress []Progress
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	res, err := UploadInChunks(context.Background(), store, bytes.NewReader(blob), size, Options{
		Prefix:     "recordings/abc",
		OnProgress: func(p Progress) { progress = append(progress, p) },
		Now:        func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("UploadInChunks: %v", err)
	}

	wantOrder := []string{
		"recordings/abc/chunk-00000.webm",
		"recordings/abc/chunk-00001.webm",
		"recordings/abc/chunk-00002.webm",
		"recordings/abc/manifest.json",
	}
	if strings.Join(store.order, ",") != strings.Join(wantOrder, ",") {
		t.Fatalf("put order = %v", store.order)
	}

	// exact byte ranges; concatenation reproduces the blob
	var joined []byte
	for i := 0; i < 3; i++ {
		joined = append(joined, store.objects[ChunkKey("recordings/abc", i)]...)
	}
	if !bytes.Equal(joined, blob) {
		t.Error("concatenated chunks differ from the original blob")
	}
	if n := len(store.objects["recordings/abc/chunk-00002.webm"]); n != 2*1024*1024 {
		t.Errorf("last chunk size = %d, want 2 MiB", n)
	}
	if store.types["recordings/abc/chunk-00000.webm"] != "audio/webm" {
		t.Errorf("content type = %q", store.types["recordings/abc/chunk-00000.webm"])
	}

	if len(progress) != 3 || progress[2] != (Progress{CompletedChunks: 3, TotalChunks: 3}) {
		t.Errorf("progress = %+v", progress)
	}

	m := res.Manifest
	if m.ChunkCount != 3 || m.Size != size || m.ChunkSize != DefaultChunkSize || m.Version != 1 {
		t.Errorf("manifest = %+v", m)
	}
	if res.ManifestPath != "recordings/abc/manifest.json" || res.UploadID != "recordings/abc" || res.Bucket != "audio-uploads" {
		t.Errorf("result = %+v", res)
	}

	var stored Manifest
	if err := json.Unmarshal(store.objects[res.ManifestPath], &stored); err != nil {
		t.Fatalf("stored manifest: %v", err)
	}
	if !stored.CreatedAt.Equal(fixed) || stored.Prefix != "recordings/abc" {
		t.Errorf("stored manifest = %+v", stored)
	}
	if !bytes.Contains(store.objects[res.ManifestPath], []byte("\n  \"version\": 1")) {
		t.Error("manifest is not indented")
	}
}

func TestUploadInChunks_DefaultPrefix(t *testing.T) {
	store := newMemStore()
	res, err := UploadInChunks(context.Background(), store, strings.NewReader("abc"), 3, Options{})
	if err != nil {
		t.Fatalf("UploadInChunks: %v", err)
	}
	if !strings.HasPrefix(res.UploadID, "recordings/") || len(res.UploadID) != len("recordings/")+36 {
		t.Errorf("UploadID = %q, want recordings/<uuid>", res.UploadID)
	}
}

func TestUploadInChunks_Empty(t *testing.T) {
	store := newMemStore()
	_, err := UploadInChunks(context.Background(), store, strings.NewReader(""), 0, Options{Prefix: "p"})
	if !errors.Is(err, ErrEmptyBlob) {
		t.Errorf("err = %v, want ErrEmptyBlob", err)
	}
	if len(store.order) != 0 {
		t.Errorf("objects written for empty blob: %v", store.order)
	}
}

func TestUploadInChunks_AbortsOnFailure(t *testing.T) {
	store := newMemStore()
	store.failAt = "p/chunk-00001.webm"
	_, err := UploadInChunks(context.Background(), store, bytes.NewReader(make([]byte, 30)), 30, Options{
		Prefix:    "p",
		ChunkSize: 10,
	})
	if err == nil || !strings.Contains(err.Error(), "storage unavailable") {
		t.Fatalf("err = %v, want storage error", err)
	}
	if len(store.order) != 1 {
		t.Errorf("put order = %v, want only chunk 0", store.order)
	}
	if _, ok := store.objects["p/manifest.json"]; ok {
		t.Error("manifest written after failed chunk")
	}
}

func TestFilterChunks(t *testing.T) {
	objs := []storage.Object{
		{Name: "manifest.json"},
		{Name: "chunk-00002.webm"},
		{Name: "chunk-00000.webm"},
		{Name: "chunk-00001.ogg"},
		{Name: "notes-chunk-00003.webm"},
		{Name: "chunk-00001.webm"},
	}
	got := FilterChunks(objs)
	want := "chunk-00000.webm,chunk-00001.webm,chunk-00002.webm"
	if strings.Join(got, ",") != want {
		t.Errorf("FilterChunks = %v, want %s", got, want)
	}
}

func TestReadManifest(t *testing.T) {
	store := newMemStore()
	UploadInChunks(context.Background(), store, strings.NewReader("hello"), 5, Options{Prefix: "p", ChunkSize: 2})
	m, err := ReadManifest(context.Background(), store, "p")
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.ChunkCount != 3 {
		t.Errorf("ChunkCount = %d, want 3", m.ChunkCount)
	}
	if _, err := ReadManifest(context.Background(), store, "q"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing manifest err = %v", err)
	}
}
