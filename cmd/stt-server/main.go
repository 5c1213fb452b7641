package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	dialoguestt "github.com/dialoguelab/dialogue-stt"
	"github.com/dialoguelab/dialogue-stt/internal/api"
	"github.com/dialoguelab/dialogue-stt/internal/config"
	"github.com/dialoguelab/dialogue-stt/internal/database"
	"github.com/dialoguelab/dialogue-stt/internal/logging"
	"github.com/dialoguelab/dialogue-stt/internal/metrics"
	"github.com/dialoguelab/dialogue-stt/internal/mqttclient"
	"github.com/dialoguelab/dialogue-stt/internal/storage"
	"github.com/dialoguelab/dialogue-stt/internal/transcribe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var version = "dev"

func main() {
	startTime := time.Now()

	envFile := flag.String("env-file", "", "path to .env file (default: .env)")
	addr := flag.String("listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	flag.Parse()

	// Config
	cfg, err := config.Load(config.Overrides{EnvFile: *envFile, HTTPAddr: *addr, LogLevel: *logLevel})
	if err != nil {
		early := logging.Early()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	log := logging.New(os.Stdout, cfg.LogLevel, cfg.Debug)
	log.Info().Str("version", version).Msg("stt-server starting")

	if err := cfg.Validate(config.RoleServer); err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}
	if cfg.WorkerToken == "" {
		log.Warn().Msg("STT_WORKER_TOKEN is not set, /api/stt/start will refuse requests")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.ServerPool, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, dialoguestt.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Providers
	providers, err := buildProviders(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize providers")
	}

	// MQTT (optional, health reporting only)
	var mqttStatus api.ConnStatus
	if cfg.MQTTBrokerURL != "" {
		mq, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID + "-server",
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("mqtt unavailable")
		} else {
			defer mq.Close()
			mqttStatus = mq
		}
	}

	prometheus.MustRegister(metrics.NewCollector(db.Pool, nil))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	sttHandler := api.NewSTTHandler(db, providers, cfg.WorkerToken, httpLog)
	health := api.NewHealthHandler(db, mqttStatus, providers, version, startTime)
	srv := api.NewServer(cfg, sttHandler, api.NewSessionHandler(db), health, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("stt-server stopped")
}

// buildProviders creates a client for every backend with credentials.
func buildProviders(ctx context.Context, cfg *config.Config, log zerolog.Logger) (api.Providers, error) {
	var p api.Providers
	settings := transcribe.NewRecognitionSettings(cfg.Recognition, transcribe.ModeLong)

	if cfg.Cloud.Enabled() {
		client, err := transcribe.NewAWSClient(ctx, cfg.Cloud.Region, cfg.Cloud.AccessKey, cfg.Cloud.SecretKey, cfg.Cloud.Endpoint)
		if err != nil {
			return p, err
		}
		transcripts, err := storage.NewS3Store(storage.S3Options{
			Endpoint:  cfg.Cloud.Endpoint,
			Region:    cfg.Cloud.Region,
			AccessKey: cfg.Cloud.AccessKey,
			SecretKey: cfg.Cloud.SecretKey,
			Bucket:    cfg.Cloud.Bucket,
		}, log)
		if err != nil {
			return p, err
		}
		p.Cloud = transcribe.NewCloudRecognizer(transcribe.CloudOptions{
			Client:       client,
			OutputBucket: cfg.Cloud.Bucket,
			Transcripts:  transcripts,
			Settings:     settings,
		})
		log.Info().Str("bucket", cfg.Cloud.Bucket).Str("region", cfg.Cloud.Region).Msg("cloud recognizer configured")
	}
	if cfg.Clova.Enabled() {
		p.Clova = transcribe.NewClovaClient(transcribe.ClovaOptions{
			InvokeURL:   cfg.Clova.InvokeURL,
			SecretKey:   cfg.Clova.SecretKey,
			DomainCode:  cfg.Clova.DomainCode,
			CallbackURL: cfg.Clova.CallbackURL,
			Completion:  cfg.Completion,
			Settings:    settings,
			Timeout:     cfg.Clova.Timeout,
		})
		// Short recordings: fewer expected speakers, answered in the request.
		p.Short = transcribe.NewClovaClient(transcribe.ClovaOptions{
			InvokeURL:  cfg.Clova.InvokeURL,
			SecretKey:  cfg.Clova.SecretKey,
			DomainCode: cfg.Clova.DomainCode,
			Completion: transcribe.CompletionSync,
			Settings:   transcribe.NewRecognitionSettings(cfg.Recognition, transcribe.ModeShort),
			Timeout:    cfg.Clova.Timeout,
		})
		log.Info().Msg("clova client configured")
	}
	if cfg.Gemini.Enabled() {
		p.Gemini = transcribe.NewGeminiClient("", cfg.Gemini.APIKey, cfg.Gemini.Model, 0)
		log.Info().Str("model", cfg.Gemini.Model).Msg("gemini client configured")
	}
	return p, nil
}
