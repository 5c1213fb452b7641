package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/config"
	"github.com/dialoguelab/dialogue-stt/internal/dispatch"
	"github.com/dialoguelab/dialogue-stt/internal/logging"
	"github.com/dialoguelab/dialogue-stt/internal/metrics"
	"github.com/dialoguelab/dialogue-stt/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

var version = "dev"

func main() {
	envFile := flag.String("env-file", "", "path to .env file (default: .env)")
	addr := flag.String("listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	startURL := flag.String("start-url", "", "start URL passed to workers (overrides STT_START_URL)")
	target := flag.String("target", "", "provider target passed to workers (overrides STT_TARGET)")
	flag.Parse()

	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		HTTPAddr: *addr,
		LogLevel: *logLevel,
		StartURL: *startURL,
		Target:   *target,
	})
	if err != nil {
		early := logging.Early()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(os.Stdout, cfg.LogLevel, cfg.Debug)
	log.Info().Str("version", version).Msg("stt-dispatcher starting")

	if err := cfg.Validate(config.RoleDispatcher); err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dc := cfg.Dispatcher
	pool := dispatch.NewPool(dispatch.PoolOptions{
		Workers:   dc.Concurrency,
		QueueSize: dc.QueueSize,
		Timeout:   dc.JobTimeout,
		Runner: &dispatch.ProcessRunner{
			Bin:      dc.WorkerBin,
			StartURL: cfg.StartURL,
			Target:   cfg.Target,
		},
		Log: log,
	})
	pool.Start()
	prometheus.MustRegister(metrics.NewCollector(nil, pool))

	// Scratch dirs of workers killed on timeout
	var pruner storage.BackgroundService = storage.NewScratchPruner("", dc.ScratchRetention, log)
	pruner.Start()

	// Local backend: dispatch when a manifest lands in the watched directory.
	var watcher *dispatch.ManifestWatcher
	if dc.WatchDir != "" || cfg.Storage.Backend == "local" {
		dir := dc.WatchDir
		if dir == "" {
			dir = filepath.Join(cfg.Storage.LocalDir, cfg.Storage.Bucket)
		}
		watcher = dispatch.NewManifestWatcher(pool, dir, log)
		if err := watcher.Start(ctx); err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("manifest watcher failed to start")
			watcher = nil
		}
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      dispatch.NewRouter(pool, log.With().Str("component", "http").Logger()),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: dc.JobTimeout + 30*time.Second,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Int("workers", dc.Concurrency).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if watcher != nil {
		watcher.Stop()
	}
	pruner.Stop()
	pool.Stop()

	log.Info().Msg("stt-dispatcher stopped")
}
