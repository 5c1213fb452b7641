package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ScratchPrefix is the directory name prefix worker scratch dirs are created with.
const ScratchPrefix = "stt-worker-"

// ScratchPruner removes worker scratch directories that outlived their process.
// A worker deletes its own scratch dir on exit; the pruner only catches dirs
// left behind by workers killed on timeout or crash.
type ScratchPruner struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewScratchPruner creates a pruner for scratch dirs under dir (os.TempDir
// when empty) older than retention.
func NewScratchPruner(dir string, retention time.Duration, log zerolog.Logger) *ScratchPruner {
	if dir == "" {
		dir = os.TempDir()
	}
	return &ScratchPruner{
		dir:       dir,
		retention: retention,
		interval:  15 * time.Minute,
		now:       time.Now,
		log:       log.With().Str("component", "scratch-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *ScratchPruner) Start() {
	go p.loop()
}

func (p *ScratchPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *ScratchPruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.Prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Prune()
		case <-p.stop:
			return
		}
	}
}

// Prune removes expired scratch dirs and returns how many were removed.
func (p *ScratchPruner) Prune() int {
	if p.retention <= 0 {
		return 0
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		p.log.Warn().Err(err).Str("dir", p.dir).Msg("cannot read scratch root")
		return 0
	}

	cutoff := p.now().Add(-p.retention)
	var prunedCount int
	var prunedBytes int64

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), ScratchPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(p.dir, e.Name())
		size := dirSize(path)
		if err := os.RemoveAll(path); err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("failed to remove scratch dir")
			continue
		}
		prunedCount++
		prunedBytes += size
	}

	if prunedCount > 0 {
		p.log.Info().
			Int("pruned", prunedCount).
			Str("freed", humanizeBytes(prunedBytes)).
			Msg("scratch prune complete")
	}
	return prunedCount
}

func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
