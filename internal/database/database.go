package database

import (
	"context"
	"net/url"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/retry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the pgx pool shared by completion, the worker status sink and
// the system log.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// PoolSize bounds the connection pool. The server keeps a warm pool; a
// worker process only ever needs a couple of connections.
type PoolSize struct {
	Max int32
	Min int32
}

var (
	ServerPool = PoolSize{Max: 20, Min: 4}
	WorkerPool = PoolSize{Max: 2, Min: 0}
)

// Connect opens the pool and waits for the database to answer a ping,
// retrying while it starts up.
func Connect(ctx context.Context, databaseURL string, size PoolSize, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = size.Max
	cfg.MinConns = size.Min

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{
		Retries:  4,
		MinDelay: 250 * time.Millisecond,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("database not ready, retrying")
		},
	}
	if _, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Msg("database connected")

	return &DB{Pool: pool, log: log}, nil
}

// HealthCheck pings with a short deadline for the health endpoint.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

// maskDSN hides the password before the URL reaches a log line.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Debug().Msg("closing database pool")
	db.Pool.Close()
}
