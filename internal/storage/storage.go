package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/dialoguelab/dialogue-stt/internal/config"
)

// ErrNotFound is returned by Open when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Object is one entry returned by List. Name is relative to the listed prefix.
type Object struct {
	Name string
	Size int64
}

// ObjectStore abstracts the bucket chunk objects and manifests live in.
// Keys are slash separated paths inside the bucket: {prefix}/chunk-00000.webm.
type ObjectStore interface {
	// Put writes the object, replacing any existing one with the same key.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// List returns the direct children of prefix, sorted by name.
	// A prefix with no objects yields an empty slice and no error.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Open returns a reader for the object. Missing objects yield ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	Bucket() string

	// Type returns "supabase", "s3" or "local".
	Type() string
}

// ListPageSize is the number of entries requested per list call.
const ListPageSize = 1000

// New creates the ObjectStore selected by cfg.Backend.
// An S3 backend is verified with HeadBucket before it is returned.
func New(cfg config.StorageConfig, log zerolog.Logger) (ObjectStore, error) {
	switch cfg.Backend {
	case "supabase":
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.Bucket, nil), nil
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.Bucket), nil
	case "s3":
		s3store, err := NewS3Store(S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.Bucket,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("S3 init failed: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s3store.HeadBucket(ctx); err != nil {
			return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
				cfg.Bucket, cfg.S3Endpoint, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.S3Endpoint).Msg("S3 connection verified")
		return s3store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// ReadAll opens key and returns its full contents.
func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
