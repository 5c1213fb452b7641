// Command stt-worker runs one merge-and-transcribe job. The result document
// is written to stdout; logs go to stderr. It exits 1 on failure.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/config"
	"github.com/dialoguelab/dialogue-stt/internal/database"
	"github.com/dialoguelab/dialogue-stt/internal/joblog"
	"github.com/dialoguelab/dialogue-stt/internal/logging"
	"github.com/dialoguelab/dialogue-stt/internal/media"
	"github.com/dialoguelab/dialogue-stt/internal/mqttclient"
	"github.com/dialoguelab/dialogue-stt/internal/storage"
	"github.com/dialoguelab/dialogue-stt/internal/transcribe"
	"github.com/dialoguelab/dialogue-stt/internal/worker"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	prefix := flag.String("prefix", "", "chunk prefix to merge, e.g. recordings/<id>")
	startURL := flag.String("start-url", "", "start URL for the cloud target (overrides STT_START_URL)")
	target := flag.String("target", "", "provider target: clova, cloud or gemini (overrides STT_TARGET)")
	completion := flag.String("completion", "", "clova completion mode: sync or async (overrides STT_COMPLETION)")
	envFile := flag.String("env-file", "", "path to .env file (default: .env)")
	flag.Parse()

	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		Target:   *target,
		StartURL: *startURL,
	})
	if err != nil {
		early := logging.Early()
		early.Error().Err(err).Msg("failed to load config")
		return 1
	}
	if *completion != "" {
		cfg.Completion = *completion
	}

	// stdout carries the result document only.
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.Debug).With().Str("bin", "stt-worker").Logger()

	if err := cfg.Validate(config.RoleWorker); err != nil {
		log.Error().Err(err).Msg("configuration error")
		return 1
	}
	if *prefix == "" {
		log.Error().Msg("--prefix is required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.Storage, log)
	if err != nil {
		log.Error().Err(err).Msg("storage init failed")
		return 1
	}

	settings := transcribe.NewRecognitionSettings(cfg.Recognition, transcribe.ModeLong)
	opts := worker.Options{
		Store:  store,
		Merger: media.NewMerger(),
		Log:    log,
	}

	switch cfg.Target {
	case config.TargetClova:
		opts.Clova = transcribe.NewClovaClient(transcribe.ClovaOptions{
			InvokeURL:   cfg.Clova.InvokeURL,
			SecretKey:   cfg.Clova.SecretKey,
			DomainCode:  cfg.Clova.DomainCode,
			CallbackURL: cfg.Clova.CallbackURL,
			Completion:  cfg.Completion,
			Settings:    settings,
			Timeout:     cfg.Clova.Timeout,
		})
	case config.TargetCloud:
		stager, err := storage.NewS3Store(storage.S3Options{
			Endpoint:  cfg.Cloud.Endpoint,
			Region:    cfg.Cloud.Region,
			AccessKey: cfg.Cloud.AccessKey,
			SecretKey: cfg.Cloud.SecretKey,
			Bucket:    cfg.Cloud.Bucket,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("cloud bucket init failed")
			return 1
		}
		opts.Stager = stager
		opts.Starter = worker.NewStartClient(cfg.StartURL, cfg.WorkerToken, nil)
	case config.TargetGemini:
		opts.Gemini = transcribe.NewGeminiClient("", cfg.Gemini.APIKey, cfg.Gemini.Model, 0)
	}

	// Diagnostics go to system_logs when a database is configured.
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL, database.WorkerPool, log.With().Str("component", "database").Logger())
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, system logs disabled")
		} else {
			defer db.Close()
			opts.Sink = joblog.Sink(db)
		}
	}

	if cfg.MQTTBrokerURL != "" {
		mq, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    fmt.Sprintf("%s-worker-%d", cfg.MQTTClientID, os.Getpid()),
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("mqtt unavailable, events disabled")
		} else {
			defer mq.Close()
			opts.Events = mq
		}
	}

	log.Info().Str("version", version).Str("prefix", *prefix).Str("target", cfg.Target).Msg("worker starting")
	start := time.Now()

	res, err := worker.New(opts).Run(ctx, worker.Job{
		Prefix:     *prefix,
		Target:     cfg.Target,
		Completion: cfg.Completion,
	})
	if err != nil {
		var se *worker.StageError
		if errors.As(err, &se) {
			log.Error().Err(se.Err).Str("stage", string(se.Stage)).Str("session_id", worker.SessionID(*prefix)).Msg("worker failed")
		} else {
			log.Error().Err(err).Msg("worker failed")
		}
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(res); err != nil {
		log.Error().Err(err).Msg("write result")
		return 1
	}
	log.Info().Dur("duration", time.Since(start)).Int("chunks", res.ChunkCount).Msg("worker finished")
	return 0
}
