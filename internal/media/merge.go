// Package media merges chunk files into one audio asset with ffmpeg and
// inspects the result with ffprobe.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoInputs is returned when Merge is called without chunk files.
var ErrNoInputs = errors.New("no input files to merge")

// Strategy records which ffmpeg pass produced the merged file.
type Strategy string

const (
	StrategyCopy     Strategy = "copy"
	StrategyReencode Strategy = "reencode"
)

// Encoding is the re-encode target used when stream copy fails.
type Encoding struct {
	Name     string
	Ext      string
	MimeType string
	Args     []string
}

var (
	// FLAC is lossless mono 16kHz, used for the cloud recognizer.
	FLAC = Encoding{Name: "flac", Ext: ".flac", MimeType: "audio/flac", Args: []string{"-c:a", "flac"}}
	// AAC is mono 16kHz at 128k, used for upload-size sensitive providers.
	AAC = Encoding{Name: "aac", Ext: ".m4a", MimeType: "audio/mp4", Args: []string{"-c:a", "aac", "-b:a", "128k"}}
)

// Merged is the single audio file produced from the chunks.
type Merged struct {
	Path     string
	MimeType string
	Strategy Strategy
}

// MergeError is returned when both the stream-copy and re-encode passes fail.
type MergeError struct {
	CopyStderr   string
	EncodeStderr string
	Err          error
}

// Error carries both stderr outputs in full; ffmpeg prints the cause last.
func (e *MergeError) Error() string {
	return fmt.Sprintf("ffmpeg merge failed: copy: %s; re-encode: %s",
		orNone(e.CopyStderr), orNone(e.EncodeStderr))
}

func (e *MergeError) Unwrap() error { return e.Err }

// Merger runs ffmpeg and ffprobe through a Runner.
type Merger struct {
	FFmpeg  string
	FFprobe string
	Runner  Runner
}

// NewMerger returns a Merger using ffmpeg and ffprobe from PATH.
func NewMerger() *Merger {
	return &Merger{FFmpeg: "ffmpeg", FFprobe: "ffprobe", Runner: ExecRunner{}}
}

// ConcatList renders the ffmpeg concat demuxer list for paths.
// Single quotes are closed, escaped and reopened.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// Merge concatenates inputs, in the given order, into dir. Stream copy into
// merged.webm is tried first; when it fails the inputs are re-encoded to mono
// 16kHz with enc. Both failing yields a *MergeError with both stderr outputs.
func (m *Merger) Merge(ctx context.Context, dir string, inputs []string, enc Encoding) (*Merged, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}

	listPath := filepath.Join(dir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(ConcatList(inputs)), 0o644); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}
	base := []string{"-hide_banner", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", listPath}

	copyPath := filepath.Join(dir, "merged.webm")
	copyArgs := append(append([]string{}, base...), "-c", "copy", copyPath)
	copyRes, copyErr := m.Runner.Run(ctx, m.FFmpeg, copyArgs...)
	if copyErr == nil {
		return &Merged{Path: copyPath, MimeType: "audio/webm", Strategy: StrategyCopy}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	os.Remove(copyPath)

	encPath := filepath.Join(dir, "merged"+enc.Ext)
	encArgs := append(append([]string{}, base...), "-vn", "-ar", "16000", "-ac", "1")
	encArgs = append(encArgs, enc.Args...)
	encArgs = append(encArgs, encPath)
	encRes, encErr := m.Runner.Run(ctx, m.FFmpeg, encArgs...)
	if encErr == nil {
		return &Merged{Path: encPath, MimeType: enc.MimeType, Strategy: StrategyReencode}, nil
	}

	return nil, &MergeError{
		CopyStderr:   strings.TrimSpace(copyRes.Stderr),
		EncodeStderr: strings.TrimSpace(encRes.Stderr),
		Err:          encErr,
	}
}

func orNone(s string) string {
	if s == "" {
		return "(no output)"
	}
	return s
}
