package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner records invocations and delegates outcomes to run.
type fakeRunner struct {
	calls [][]string
	run   func(name string, args []string) (CommandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run == nil {
		return CommandResult{}, nil
	}
	return f.run(name, args)
}

func argsContain(args []string, seq ...string) bool {
	joined := strings.Join(args, " ")
	return strings.Contains(joined, strings.Join(seq, " "))
}

func TestConcatList(t *testing.T) {
	got := ConcatList([]string{"/tmp/a/chunk-00000.webm", "/tmp/it's/chunk-00001.webm"})
	want := "file '/tmp/a/chunk-00000.webm'\nfile '/tmp/it'\\''s/chunk-00001.webm'\n"
	if got != want {
		t.Errorf("ConcatList =\n%q\nwant\n%q", got, want)
	}
}

func TestMerge_StreamCopy(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{}
	m := &Merger{FFmpeg: "ffmpeg", FFprobe: "ffprobe", Runner: r}

	inputs := []string{filepath.Join(dir, "chunk-00000.webm"), filepath.Join(dir, "chunk-00001.webm")}
	merged, err := m.Merge(context.Background(), dir, inputs, FLAC)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Strategy != StrategyCopy || merged.Path != filepath.Join(dir, "merged.webm") || merged.MimeType != "audio/webm" {
		t.Errorf("merged = %+v", merged)
	}
	if len(r.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(r.calls))
	}
	args := r.calls[0]
	if !argsContain(args, "-hide_banner", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i") {
		t.Errorf("base args missing: %v", args)
	}
	if !argsContain(args, "-c", "copy") {
		t.Errorf("copy args missing: %v", args)
	}

	list, err := os.ReadFile(filepath.Join(dir, "concat.txt"))
	if err != nil {
		t.Fatalf("concat list: %v", err)
	}
	if string(list) != ConcatList(inputs) {
		t.Errorf("concat list = %q", list)
	}
}

func TestMerge_FallbackReencode(t *testing.T) {
	tests := []struct {
		name     string
		enc      Encoding
		wantArgs []string
		wantPath string
		wantMime string
	}{
		{"flac", FLAC, []string{"-ar", "16000", "-ac", "1", "-c:a", "flac"}, "merged.flac", "audio/flac"},
		{"aac", AAC, []string{"-ar", "16000", "-ac", "1", "-c:a", "aac", "-b:a", "128k"}, "merged.m4a", "audio/mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			r := &fakeRunner{run: func(name string, args []string) (CommandResult, error) {
				if argsContain(args, "-c", "copy") {
					return CommandResult{Stderr: "Non-monotonic DTS", ExitCode: 1}, errors.New("exit status 1")
				}
				return CommandResult{}, nil
			}}
			m := &Merger{FFmpeg: "ffmpeg", Runner: r}

			merged, err := m.Merge(context.Background(), dir, []string{"a.webm"}, tt.enc)
			if err != nil {
				t.Fatalf("Merge: %v", err)
			}
			if merged.Strategy != StrategyReencode {
				t.Errorf("Strategy = %q, want reencode", merged.Strategy)
			}
			if merged.Path != filepath.Join(dir, tt.wantPath) || merged.MimeType != tt.wantMime {
				t.Errorf("merged = %+v", merged)
			}
			if len(r.calls) != 2 {
				t.Fatalf("calls = %d, want 2", len(r.calls))
			}
			if !argsContain(r.calls[1], tt.wantArgs...) {
				t.Errorf("re-encode args = %v, want %v", r.calls[1], tt.wantArgs)
			}
		})
	}
}

func TestMerge_BothFail(t *testing.T) {
	r := &fakeRunner{run: func(name string, args []string) (CommandResult, error) {
		if argsContain(args, "-c", "copy") {
			return CommandResult{Stderr: "[concat @ 0x1] Opening chunk_00001.webm\nNon-monotonous DTS in output stream\n"}, errors.New("exit status 1")
		}
		return CommandResult{Stderr: "Input #0, concat, from 'concat.txt':\nInvalid data found when processing input"}, errors.New("exit status 1")
	}}
	m := &Merger{FFmpeg: "ffmpeg", Runner: r}

	_, err := m.Merge(context.Background(), t.TempDir(), []string{"a.webm"}, AAC)
	var me *MergeError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MergeError", err)
	}
	if !strings.HasSuffix(me.CopyStderr, "Non-monotonous DTS in output stream") {
		t.Errorf("CopyStderr = %q", me.CopyStderr)
	}
	for _, want := range []string{"Opening chunk_00001.webm", "Non-monotonous DTS", "Input #0", "Invalid data found"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error() = %q, missing %q", err.Error(), want)
		}
	}
}

func TestMergeError_NoOutput(t *testing.T) {
	err := &MergeError{Err: errors.New("signal: killed")}
	if got := err.Error(); got != "ffmpeg merge failed: copy: (no output); re-encode: (no output)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestMerge_NoInputs(t *testing.T) {
	r := &fakeRunner{}
	m := &Merger{FFmpeg: "ffmpeg", Runner: r}
	if _, err := m.Merge(context.Background(), t.TempDir(), nil, FLAC); !errors.Is(err, ErrNoInputs) {
		t.Errorf("err = %v, want ErrNoInputs", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("ffmpeg invoked %d times", len(r.calls))
	}
}

func TestProbe(t *testing.T) {
	out := `{"streams":[{"index":0,"codec_name":"opus","codec_type":"audio","channels":2,"sample_rate":"48000"}],
		"format":{"format_name":"matroska,webm","duration":"62.480000"}}`
	r := &fakeRunner{run: func(name string, args []string) (CommandResult, error) {
		if name != "ffprobe" {
			t.Errorf("name = %q, want ffprobe", name)
		}
		return CommandResult{Stdout: out}, nil
	}}
	m := &Merger{FFprobe: "ffprobe", Runner: r}

	p := m.Probe(context.Background(), "merged.webm")
	if p.Err != nil {
		t.Fatalf("Probe err: %v", p.Err)
	}
	if p.Info.FormatName != "matroska,webm" || p.Info.Duration != 62.48 {
		t.Errorf("info = %+v", p.Info)
	}
	a := p.Info.Audio()
	if a == nil || a.CodecName != "opus" || a.Channels != 2 || a.SampleRate != 48000 {
		t.Errorf("audio stream = %+v", a)
	}
}

func TestProbe_FailureIsCarried(t *testing.T) {
	r := &fakeRunner{run: func(name string, args []string) (CommandResult, error) {
		return CommandResult{Stderr: "No such file"}, errors.New("exit status 1")
	}}
	m := &Merger{FFprobe: "ffprobe", Runner: r}

	p := m.Probe(context.Background(), "missing.webm")
	if p.Err == nil || p.Info != nil {
		t.Fatalf("Probe = %+v, want error only", p)
	}
	if !strings.Contains(p.Err.Error(), "No such file") {
		t.Errorf("Err = %v", p.Err)
	}
}
