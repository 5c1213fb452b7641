// Package chunks splits a recording into fixed-size chunk objects under one
// prefix and finds them again for merging.
package chunks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dialoguelab/dialogue-stt/internal/storage"
)

const (
	DefaultChunkSize = 4 * 1024 * 1024
	DefaultMimeType  = "audio/webm"
	ManifestName     = "manifest.json"
	ManifestVersion  = 1

	chunkPrefix = "chunk-"
	chunkSuffix = ".webm"
)

var (
	// ErrEmptyBlob rejects zero-length recordings before anything is uploaded.
	ErrEmptyBlob = errors.New("recording is empty")
	// ErrNoChunksFound means a prefix holds no chunk objects.
	ErrNoChunksFound = errors.New("no chunks found")
)

// MimeTypeFor picks the content type for a recording file. Browser captures
// are .webm and always map to DefaultMimeType; the host mime table only
// decides other extensions.
func MimeTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == chunkSuffix {
		return DefaultMimeType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return DefaultMimeType
}

// Manifest describes a completed chunked upload. It is written after every
// chunk and is informational: mergers list chunk objects instead of trusting it.
type Manifest struct {
	Version    int       `json:"version"`
	Bucket     string    `json:"bucket"`
	Prefix     string    `json:"prefix"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	ChunkSize  int64     `json:"chunkSize"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Progress is reported after each chunk is stored.
type Progress struct {
	CompletedChunks int `json:"completedChunks"`
	TotalChunks     int `json:"totalChunks"`
}

type Options struct {
	Prefix     string
	ChunkSize  int64
	MimeType   string
	OnProgress func(Progress)
	Now        func() time.Time
}

type UploadResult struct {
	UploadID     string   `json:"uploadId"`
	Bucket       string   `json:"bucket"`
	ManifestPath string   `json:"manifestPath"`
	Manifest     Manifest `json:"manifest"`
}

// ChunkName returns the object name of chunk i: chunk-00000.webm.
// Zero padding keeps lexicographic order equal to index order.
func ChunkName(i int) string {
	return fmt.Sprintf("%s%05d%s", chunkPrefix, i, chunkSuffix)
}

// ChunkKey returns the full object key of chunk i under prefix.
func ChunkKey(prefix string, i int) string {
	return strings.TrimSuffix(prefix, "/") + "/" + ChunkName(i)
}

// ManifestKey returns the manifest object key for prefix.
func ManifestKey(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + ManifestName
}

// IsChunkName reports whether an object name is a chunk.
func IsChunkName(name string) bool {
	return strings.HasPrefix(name, chunkPrefix) && strings.HasSuffix(name, chunkSuffix)
}

// ChunkCount returns ceil(size/chunkSize).
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// NewPrefix returns recordings/<uuid v4>.
func NewPrefix() string {
	return "recordings/" + uuid.NewString()
}

// UploadInChunks stores blob under opts.Prefix as consecutive chunk objects,
// strictly in index order, then writes the manifest. The first failed chunk
// aborts the upload; re-running with the same prefix overwrites idempotently.
func UploadInChunks(ctx context.Context, store storage.ObjectStore, blob io.ReaderAt, size int64, opts Options) (*UploadResult, error) {
	if size <= 0 {
		return nil, ErrEmptyBlob
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MimeType == "" {
		opts.MimeType = DefaultMimeType
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	prefix := strings.Trim(opts.Prefix, "/")
	if prefix == "" {
		prefix = NewPrefix()
	}

	total := ChunkCount(size, opts.ChunkSize)
	for i := 0; i < total; i++ {
		start := int64(i) * opts.ChunkSize
		end := start + opts.ChunkSize
		if end > size {
			end = size
		}
		section := io.NewSectionReader(blob, start, end-start)
		if err := store.Put(ctx, ChunkKey(prefix, i), section, end-start, opts.MimeType); err != nil {
			return nil, fmt.Errorf("upload chunk %d/%d: %w", i+1, total, err)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{CompletedChunks: i + 1, TotalChunks: total})
		}
	}

	manifest := Manifest{
		Version:    ManifestVersion,
		Bucket:     store.Bucket(),
		Prefix:     prefix,
		MimeType:   opts.MimeType,
		Size:       size,
		ChunkSize:  opts.ChunkSize,
		ChunkCount: total,
		CreatedAt:  opts.Now().UTC(),
	}
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	manifestPath := ManifestKey(prefix)
	if err := store.Put(ctx, manifestPath, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return nil, fmt.Errorf("upload manifest: %w", err)
	}

	return &UploadResult{
		UploadID:     prefix,
		Bucket:       store.Bucket(),
		ManifestPath: manifestPath,
		Manifest:     manifest,
	}, nil
}

// FilterChunks keeps chunk object names and sorts them into index order.
func FilterChunks(objs []storage.Object) []string {
	names := make([]string, 0, len(objs))
	for _, o := range objs {
		if IsChunkName(o.Name) {
			names = append(names, o.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ReadManifest loads the manifest for prefix. Callers treat failures as
// informational only.
func ReadManifest(ctx context.Context, store storage.ObjectStore, prefix string) (*Manifest, error) {
	b, err := storage.ReadAll(ctx, store, ManifestKey(prefix))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
