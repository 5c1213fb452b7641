// Command stt-upload uploads a local recording as chunk objects, writes the
// manifest and optionally asks the dispatcher to process it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/chunks"
	"github.com/dialoguelab/dialogue-stt/internal/config"
	"github.com/dialoguelab/dialogue-stt/internal/logging"
	"github.com/dialoguelab/dialogue-stt/internal/storage"
	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run())
}

func run() int {
	file := flag.String("f", "", "recording to upload")
	prefix := flag.String("prefix", "", "object prefix (default: recordings/<uuid>)")
	chunkSize := flag.Int64("chunk-size", chunks.DefaultChunkSize, "chunk size in bytes")
	mimeType := flag.String("mime", "", "content type (default: from extension, else audio/webm)")
	dispatchURL := flag.String("dispatch", "", "dispatcher start URL, e.g. http://localhost:8090/stt/start")
	envFile := flag.String("env-file", "", "path to .env file (default: .env)")
	flag.Parse()

	cfg, err := config.Load(config.Overrides{EnvFile: *envFile})
	if err != nil {
		early := logging.Early()
		early.Error().Err(err).Msg("failed to load config")
		return 1
	}
	log := logging.Console(cfg.LogLevel, cfg.Debug)

	if *file == "" {
		log.Error().Msg("-f is required")
		flag.Usage()
		return 2
	}
	if err := cfg.Validate(config.RoleUploader); err != nil {
		log.Error().Err(err).Msg("configuration error")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.Storage, log)
	if err != nil {
		log.Error().Err(err).Msg("storage init failed")
		return 1
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Error().Err(err).Msg("open recording")
		return 1
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Error().Err(err).Msg("stat recording")
		return 1
	}

	ct := *mimeType
	if ct == "" {
		ct = chunks.MimeTypeFor(*file)
	}

	start := time.Now()
	res, err := chunks.UploadInChunks(ctx, store, f, info.Size(), chunks.Options{
		Prefix:    *prefix,
		ChunkSize: *chunkSize,
		MimeType:  ct,
		OnProgress: func(p chunks.Progress) {
			log.Info().Int("completed", p.CompletedChunks).Int("total", p.TotalChunks).Msg("chunk uploaded")
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("upload failed")
		return 1
	}
	log.Info().
		Str("prefix", res.UploadID).
		Int("chunks", res.Manifest.ChunkCount).
		Dur("duration", time.Since(start)).
		Msg("upload complete")

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(res); err != nil {
		log.Error().Err(err).Msg("write result")
		return 1
	}

	if *dispatchURL == "" {
		return 0
	}
	body, err := triggerDispatch(ctx, *dispatchURL, res.UploadID, log)
	if err != nil {
		log.Error().Err(err).Msg("dispatch failed")
		return 1
	}
	fmt.Fprintln(os.Stdout, strings.TrimSpace(string(body)))
	return 0
}

// triggerDispatch posts {prefix} to the dispatcher and returns the worker
// result. The call blocks for the length of the job.
func triggerDispatch(ctx context.Context, url, prefix string, log zerolog.Logger) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"prefix": prefix})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	log.Info().Str("url", url).Str("prefix", prefix).Msg("dispatching")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispatcher returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
