package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ProcessRunner spawns the worker binary for each request. Stdout carries the
// result document; stderr is diagnostics.
type ProcessRunner struct {
	Bin      string
	StartURL string
	Target   string
	// Env is appended to the parent environment when set.
	Env []string
}

// Args returns the worker command line for req.
func (r *ProcessRunner) Args(req Request) []string {
	args := []string{"--prefix", req.Prefix}
	if r.StartURL != "" {
		args = append(args, "--start-url", r.StartURL)
	}
	if r.Target != "" {
		args = append(args, "--target", r.Target)
	}
	if req.Completion != "" {
		args = append(args, "--completion", req.Completion)
	}
	return args
}

func (r *ProcessRunner) Run(ctx context.Context, req Request) Outcome {
	cmd := exec.CommandContext(ctx, r.Bin, r.Args(req)...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := Outcome{
		Stdout:   stdout.Bytes(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	if err == nil {
		return out
	}

	out.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		out.Err = fmt.Errorf("worker killed: %w", ctx.Err())
	} else {
		out.Err = fmt.Errorf("worker exited with code %d: %w", out.ExitCode, err)
	}
	return out
}
