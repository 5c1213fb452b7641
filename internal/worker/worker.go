// Package worker runs one merge-and-transcribe job: list the chunk objects
// under a prefix, download them, merge them with ffmpeg and submit the merged
// audio to the configured provider.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/chunks"
	"github.com/dialoguelab/dialogue-stt/internal/config"
	"github.com/dialoguelab/dialogue-stt/internal/joblog"
	"github.com/dialoguelab/dialogue-stt/internal/media"
	"github.com/dialoguelab/dialogue-stt/internal/retry"
	"github.com/dialoguelab/dialogue-stt/internal/storage"
	"github.com/dialoguelab/dialogue-stt/internal/transcribe"
	"github.com/rs/zerolog"
)

// LogSource is the system_logs source for worker diagnostics.
const LogSource = "stt-worker"

// Merger merges downloaded chunks and inspects the result. *media.Merger
// implements it.
type Merger interface {
	Merge(ctx context.Context, dir string, inputs []string, enc media.Encoding) (*media.Merged, error)
	Probe(ctx context.Context, path string) media.Probe
}

// ClovaSubmitter uploads merged audio to Clova with a per-call completion mode.
type ClovaSubmitter interface {
	SubmitWith(ctx context.Context, audio transcribe.Audio, completion string) (transcribe.Handle, error)
}

// Stager puts merged audio in the bucket the cloud recognizer reads from.
type Stager interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	URI(key string) string
}

// Starter starts a cloud job for a staged object and returns its name.
type Starter interface {
	Start(ctx context.Context, uri string) (string, error)
}

type Options struct {
	Store   storage.ObjectStore
	Merger  Merger
	Clova   ClovaSubmitter
	Gemini  transcribe.Provider
	Stager  Stager
	Starter Starter

	Sink   joblog.Sink
	Events Publisher
	Retry  retry.Policy

	// ScratchDir is the parent of per-job scratch directories; "" uses os.TempDir.
	ScratchDir string
	Log        zerolog.Logger
	Now        func() time.Time
}

// Job is one dispatch request.
type Job struct {
	Prefix     string
	Target     string
	Completion string
}

// StageTiming records when a stage was entered, relative to job start.
type StageTiming struct {
	Stage     Stage     `json:"stage"`
	At        time.Time `json:"at"`
	ElapsedMs int64     `json:"elapsedMs"`
}

// Result is the JSON document a successful worker writes to stdout.
// Exactly one of Result, OperationName and Token is set.
type Result struct {
	Prefix        string           `json:"prefix"`
	SessionID     string           `json:"sessionId"`
	ChunkCount    int              `json:"chunkCount"`
	MergedPath    string           `json:"mergedPath"`
	MergeStrategy media.Strategy   `json:"mergeStrategy"`
	Probe         *media.ProbeInfo `json:"probe,omitempty"`
	Provider      string           `json:"provider"`
	Result        json.RawMessage  `json:"result,omitempty"`
	OperationName string           `json:"operationName,omitempty"`
	Token         string           `json:"token,omitempty"`
	Stages        []StageTiming    `json:"stages"`
}

type Worker struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options) *Worker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.Retries == 0 && opts.Retry.MinDelay == 0 {
		opts.Retry = retry.Default()
	}
	return &Worker{
		opts: opts,
		log:  opts.Log.With().Str("component", "worker").Logger(),
	}
}

// SessionID derives the correlation id from the last prefix segment,
// e.g. "recordings/req_123" → "req_123".
func SessionID(prefix string) string {
	p := strings.Trim(prefix, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// EncodingFor returns the re-encode target used for a provider target.
func EncodingFor(target string) media.Encoding {
	if target == config.TargetCloud {
		return media.FLAC
	}
	return media.AAC
}

// Run executes the job. The scratch directory is removed before Run returns,
// so Result.MergedPath is informational. Failures are *StageError.
func (w *Worker) Run(ctx context.Context, job Job) (*Result, error) {
	prefix := strings.Trim(job.Prefix, "/")
	if prefix == "" {
		return nil, &StageError{Stage: StageListing, Err: errors.New("prefix is required")}
	}
	sessionID := SessionID(prefix)

	r := &run{
		w:     w,
		job:   job,
		jl:    joblog.New(w.log, w.opts.Sink, sessionID, LogSource),
		log:   w.log.With().Str("session_id", sessionID).Str("prefix", prefix).Logger(),
		start: w.opts.Now(),
		res: &Result{
			Prefix:    prefix,
			SessionID: sessionID,
			Provider:  job.Target,
		},
	}

	dir, err := os.MkdirTemp(w.opts.ScratchDir, storage.ScratchPrefix+"*")
	if err != nil {
		return nil, &StageError{Stage: StageListing, Err: fmt.Errorf("create scratch dir: %w", err)}
	}
	defer os.RemoveAll(dir)
	r.dir = dir

	r.jl.Info(ctx, "Worker started", map[string]any{"prefix": prefix, "tempDir": dir, "target": job.Target})

	if err := r.execute(ctx); err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			se = &StageError{Stage: r.stage, Err: err}
		}
		r.fail(se)
		r.jl.Error(ctx, "Worker failed", se.Err, map[string]any{"stage": string(se.Stage)})
		return nil, se
	}
	r.enter(StageDone)
	return r.res, nil
}

// run is the mutable state of one Run call.
type run struct {
	w     *Worker
	job   Job
	jl    *joblog.Logger
	log   zerolog.Logger
	dir   string
	start time.Time
	stage Stage
	res   *Result
}

func (r *run) execute(ctx context.Context) error {
	prefix := r.res.Prefix

	r.enter(StageListing)
	names, err := r.list(ctx, prefix)
	if err != nil {
		return &StageError{Stage: StageListing, Err: err}
	}
	r.res.ChunkCount = len(names)
	r.checkManifest(ctx, prefix, len(names))

	r.enter(StageDownloading)
	r.jl.Info(ctx, "Downloading chunks", map[string]any{"bucket": r.w.opts.Store.Bucket(), "count": len(names)})
	paths, err := r.download(ctx, prefix, names)
	if err != nil {
		return &StageError{Stage: StageDownloading, Err: err}
	}
	r.jl.Info(ctx, "Chunks downloaded", map[string]any{"count": len(paths)})

	r.enter(StageMerging)
	merged, err := r.w.opts.Merger.Merge(ctx, r.dir, paths, EncodingFor(r.job.Target))
	if err != nil {
		var meta map[string]any
		var merr *media.MergeError
		if errors.As(err, &merr) {
			meta = map[string]any{"copyStderr": merr.CopyStderr, "encodeStderr": merr.EncodeStderr}
		}
		r.jl.Error(ctx, "FFmpeg merge failed", err, meta)
		return &StageError{Stage: StageMerging, Err: err}
	}
	r.res.MergedPath = merged.Path
	r.res.MergeStrategy = merged.Strategy
	r.enter(StageMerged)
	r.jl.Info(ctx, "Merge complete", map[string]any{"strategy": string(merged.Strategy), "path": merged.Path})

	probe := r.w.opts.Merger.Probe(ctx, merged.Path)
	if probe.Err != nil {
		r.log.Warn().Err(probe.Err).Msg("ffprobe inspection failed")
	} else {
		r.res.Probe = probe.Info
		r.log.Info().
			Str("format", probe.Info.FormatName).
			Float64("duration", probe.Info.Duration).
			Int("streams", len(probe.Info.Streams)).
			Msg("merged audio inspected")
	}

	r.enter(StageSubmitting)
	if err := r.submit(ctx, merged); err != nil {
		return &StageError{Stage: StageSubmitting, Err: err}
	}
	r.enter(StageSubmitted)
	return nil
}

func (r *run) list(ctx context.Context, prefix string) ([]string, error) {
	objs, err := retry.Do(ctx, r.policy("list "+prefix), func(ctx context.Context) ([]storage.Object, error) {
		return r.w.opts.Store.List(ctx, prefix)
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	names := chunks.FilterChunks(objs)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w for prefix %s", chunks.ErrNoChunksFound, prefix)
	}
	return names, nil
}

// checkManifest compares the manifest with the listing. A missing or stale
// manifest is logged, never fatal.
func (r *run) checkManifest(ctx context.Context, prefix string, listed int) {
	m, err := chunks.ReadManifest(ctx, r.w.opts.Store, prefix)
	if err != nil {
		r.log.Debug().Err(err).Msg("manifest unavailable")
		return
	}
	if m.ChunkCount != listed {
		r.log.Warn().Int("manifest_chunks", m.ChunkCount).Int("listed_chunks", listed).Msg("manifest disagrees with listing")
	}
}

// download fetches chunks sequentially in index order. Each fetch is retried.
func (r *run) download(ctx context.Context, prefix string, names []string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		key := path.Join(prefix, name)
		local := filepath.Join(r.dir, name)
		_, err := retry.Do(ctx, r.policy("download "+key), func(ctx context.Context) (int64, error) {
			return r.fetch(ctx, key, local)
		})
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", key, err)
		}
		paths = append(paths, local)
	}
	return paths, nil
}

func (r *run) fetch(ctx context.Context, key, local string) (int64, error) {
	rc, err := r.w.opts.Store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, retry.Permanent(err)
		}
		return 0, err
	}
	defer rc.Close()

	f, err := os.Create(local)
	if err != nil {
		return 0, retry.Permanent(err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (r *run) submit(ctx context.Context, merged *media.Merged) error {
	audio := transcribe.Audio{Path: merged.Path, MimeType: merged.MimeType}
	opts := r.w.opts

	switch r.job.Target {
	case config.TargetClova:
		if opts.Clova == nil {
			return errors.New("clova provider not configured")
		}
		completion := r.job.Completion
		if completion == "" {
			completion = transcribe.CompletionSync
		}
		r.jl.Info(ctx, "Uploading to Clova", map[string]any{"completion": completion})
		h, err := opts.Clova.SubmitWith(ctx, audio, completion)
		if err != nil {
			return err
		}
		if h.IsInline() {
			r.res.Result = h.Inline
		} else {
			r.res.Token = h.Token
		}
		r.jl.Info(ctx, "Clova processing complete", map[string]any{"resultSummary": clovaSummary(h)})
		return nil

	case config.TargetCloud:
		if opts.Stager == nil || opts.Starter == nil {
			return errors.New("cloud provider not configured")
		}
		key := path.Join("merged", r.res.SessionID, filepath.Base(merged.Path))
		if err := stageFile(ctx, opts.Stager, key, merged); err != nil {
			return fmt.Errorf("stage merged audio: %w", err)
		}
		uri := opts.Stager.URI(key)
		r.log.Info().Str("uri", uri).Msg("merged audio staged")
		op, err := opts.Starter.Start(ctx, uri)
		if err != nil {
			return err
		}
		r.res.OperationName = op
		return nil

	case config.TargetGemini:
		if opts.Gemini == nil {
			return errors.New("gemini provider not configured")
		}
		h, err := opts.Gemini.Submit(ctx, audio)
		if err != nil {
			return err
		}
		r.res.OperationName = h.OperationName
		return nil

	default:
		return fmt.Errorf("unknown target %q", r.job.Target)
	}
}

func stageFile(ctx context.Context, s Stager, key string, merged *media.Merged) error {
	f, err := os.Open(merged.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	return s.Put(ctx, key, f, fi.Size(), merged.MimeType)
}

func clovaSummary(h transcribe.Handle) string {
	if !h.IsInline() {
		return "Pending"
	}
	res, err := transcribe.ParseClovaResult(h.Inline)
	if err != nil || strings.TrimSpace(res.Text) == "" {
		return "No text"
	}
	return "Text found"
}

func (r *run) policy(label string) retry.Policy {
	p := r.w.opts.Retry
	if p.OnRetry == nil {
		p.OnRetry = func(attempt int, delay time.Duration, err error) {
			r.log.Warn().
				Err(err).
				Str("op", label).
				Int("attempt", attempt).
				Int("retries", p.Retries).
				Dur("delay", delay).
				Msg("transient failure, retrying")
		}
	}
	return p
}

// enter records a stage transition and publishes it.
func (r *run) enter(s Stage) {
	r.stage = s
	now := r.w.opts.Now()
	r.res.Stages = append(r.res.Stages, StageTiming{
		Stage:     s,
		At:        now,
		ElapsedMs: now.Sub(r.start).Milliseconds(),
	})
	r.log.Debug().Str("stage", string(s)).Msg("stage entered")
	r.publish(Event{JobID: r.res.SessionID, Prefix: r.res.Prefix, Stage: s, Time: now})
}

func (r *run) fail(se *StageError) {
	s := failedStage(se.Stage)
	r.stage = s
	r.publish(Event{
		JobID:  r.res.SessionID,
		Prefix: r.res.Prefix,
		Stage:  s,
		Error:  se.Err.Error(),
		Time:   r.w.opts.Now(),
	})
}

func (r *run) publish(ev Event) {
	if r.w.opts.Events == nil {
		return
	}
	if err := r.w.opts.Events.Publish(EventTopic(ev.JobID), ev); err != nil {
		r.log.Warn().Err(err).Str("stage", string(ev.Stage)).Msg("event publish failed")
	}
}
