package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/chunks"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const manifestDebounce = 500 * time.Millisecond

// Submitter is the part of *Pool the watcher uses.
type Submitter interface {
	Submit(ctx context.Context, req Request) (<-chan Outcome, error)
}

// WatcherStats is reported on the dispatcher health endpoint.
type WatcherStats struct {
	Status    string `json:"status"`
	WatchDir  string `json:"watch_dir"`
	Submitted int64  `json:"submitted"`
	Rejected  int64  `json:"rejected"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Skipped   int64  `json:"skipped"`
}

// ManifestWatcher dispatches a job whenever a manifest.json appears under a
// local storage directory. It is the fire-and-forget path: outcomes are only
// logged.
type ManifestWatcher struct {
	queue    Submitter
	watchDir string
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	inflightMu sync.Mutex
	inflight   map[string]bool

	submitted atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	status    atomic.Value // string: "starting", "watching", "stopped"
}

func NewManifestWatcher(q Submitter, watchDir string, log zerolog.Logger) *ManifestWatcher {
	mw := &ManifestWatcher{
		queue:          q,
		watchDir:       watchDir,
		log:            log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		inflight:       make(map[string]bool),
	}
	mw.status.Store("starting")
	return mw
}

// Start adds every existing directory under watchDir and begins watching.
// Manifests already present are not dispatched.
func (mw *ManifestWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(mw.watchDir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	mw.watcher = w

	dirCount := 0
	err = filepath.WalkDir(mw.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			mw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				mw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	mw.ctx, mw.cancel = context.WithCancel(ctx)
	mw.log.Info().Int("directories", dirCount).Str("watch_dir", mw.watchDir).Msg("manifest watcher initialized")
	mw.status.Store("watching")

	mw.wg.Add(1)
	go mw.watchLoop()
	return nil
}

// Stop closes the fsnotify watcher and waits for the event loop.
func (mw *ManifestWatcher) Stop() {
	mw.status.Store("stopped")
	if mw.cancel != nil {
		mw.cancel()
	}
	if mw.watcher != nil {
		mw.watcher.Close()
	}
	mw.wg.Wait()

	mw.debounceMu.Lock()
	for path, t := range mw.debounceTimers {
		t.Stop()
		delete(mw.debounceTimers, path)
	}
	mw.debounceMu.Unlock()

	mw.log.Info().
		Int64("submitted", mw.submitted.Load()).
		Int64("rejected", mw.rejected.Load()).
		Int64("skipped", mw.skipped.Load()).
		Msg("manifest watcher stopped")
}

func (mw *ManifestWatcher) Stats() WatcherStats {
	s, _ := mw.status.Load().(string)
	return WatcherStats{
		Status:    s,
		WatchDir:  mw.watchDir,
		Submitted: mw.submitted.Load(),
		Rejected:  mw.rejected.Load(),
		Completed: mw.completed.Load(),
		Failed:    mw.failed.Load(),
		Skipped:   mw.skipped.Load(),
	}
}

func (mw *ManifestWatcher) watchLoop() {
	defer mw.wg.Done()
	for {
		select {
		case <-mw.ctx.Done():
			return

		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				mw.addTree(event.Name)
				continue
			}

			if filepath.Base(event.Name) != chunks.ManifestName {
				continue
			}
			mw.scheduleProcess(event.Name)

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// addTree watches a new directory and everything below it. Storage creates
// recordings/<id>/ in one MkdirAll, so nested directories and even a
// manifest can exist before the parent is watched.
func (mw *ManifestWatcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := mw.watcher.Add(path); err != nil {
				mw.log.Warn().Err(err).Str("path", path).Msg("failed to watch new directory")
			} else {
				mw.log.Debug().Str("path", path).Msg("watching new directory")
			}
			return nil
		}
		if d.Name() == chunks.ManifestName {
			mw.scheduleProcess(path)
		}
		return nil
	})
}

// scheduleProcess debounces manifest handling by 500ms so the file is fully
// written before it is read.
func (mw *ManifestWatcher) scheduleProcess(path string) {
	mw.debounceMu.Lock()
	defer mw.debounceMu.Unlock()

	if t, ok := mw.debounceTimers[path]; ok {
		t.Reset(manifestDebounce)
		return
	}

	mw.debounceTimers[path] = time.AfterFunc(manifestDebounce, func() {
		mw.debounceMu.Lock()
		delete(mw.debounceTimers, path)
		mw.debounceMu.Unlock()

		mw.processManifest(path)
	})
}

func (mw *ManifestWatcher) processManifest(path string) {
	if mw.ctx.Err() != nil {
		return
	}
	prefix, err := mw.prefixFor(path)
	if err != nil {
		mw.skipped.Add(1)
		mw.log.Warn().Err(err).Str("path", path).Msg("failed to read manifest")
		return
	}

	mw.inflightMu.Lock()
	if mw.inflight[prefix] {
		mw.inflightMu.Unlock()
		mw.skipped.Add(1)
		mw.log.Debug().Str("prefix", prefix).Msg("job already running for prefix")
		return
	}
	mw.inflight[prefix] = true
	mw.inflightMu.Unlock()

	done, err := mw.queue.Submit(mw.ctx, Request{Prefix: prefix, Source: "watcher"})
	if err != nil {
		mw.clearInflight(prefix)
		mw.rejected.Add(1)
		mw.log.Warn().Err(err).Str("prefix", prefix).Msg("dispatch rejected")
		return
	}
	mw.submitted.Add(1)
	mw.log.Info().Str("prefix", prefix).Msg("manifest dispatched")

	go func() {
		defer mw.clearInflight(prefix)
		out := <-done
		if out.Err != nil {
			mw.failed.Add(1)
			mw.log.Error().Err(out.Err).Str("prefix", prefix).Str("stderr", lastLine(out.Stderr)).Msg("watched job failed")
			return
		}
		mw.completed.Add(1)
		mw.log.Info().Str("prefix", prefix).RawJSON("result", compactJSON(out.Stdout)).Msg("watched job completed")
	}()
}

// prefixFor returns the manifest's prefix, or the manifest directory relative
// to watchDir when the manifest does not name one.
func (mw *ManifestWatcher) prefixFor(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var m chunks.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	if p := strings.Trim(m.Prefix, "/"); p != "" {
		return p, nil
	}
	rel, err := filepath.Rel(mw.watchDir, filepath.Dir(path))
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (mw *ManifestWatcher) clearInflight(prefix string) {
	mw.inflightMu.Lock()
	delete(mw.inflight, prefix)
	mw.inflightMu.Unlock()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// compactJSON returns b trimmed when it is valid JSON, else a JSON null.
func compactJSON(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && json.Valid(b) {
		return b
	}
	return []byte("null")
}
