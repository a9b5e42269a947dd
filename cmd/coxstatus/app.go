package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/metrics"
	"github.com/goodtune/coxstatus/internal/portal"
	"github.com/goodtune/coxstatus/internal/session"
	"github.com/goodtune/coxstatus/internal/sink"
	"github.com/goodtune/coxstatus/internal/sink/influx"
	"github.com/goodtune/coxstatus/internal/storage"
	"github.com/goodtune/coxstatus/internal/storage/bolt"
	"github.com/goodtune/coxstatus/internal/storage/file"
	"github.com/goodtune/coxstatus/internal/storage/redis"
)

// app holds the portal side of the wiring shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *session.Store
	session *session.Session
	client  *portal.Client
	auth    *portal.Authenticator
	fetcher *portal.Fetcher
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	backend, err := openSessionStore(cfg.Session, cfg.Portal.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	store := session.NewStore(backend, logger)
	sess := store.Load(ctx)

	client, err := portal.NewClient(cfg.Portal, sess, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create portal client: %w", err)
	}

	var resolver portal.ConstantsResolver = portal.NewScriptResolver(
		client,
		cfg.Portal.ConfigScriptURL,
		cfg.Portal.Constants,
		cfg.Portal.RequiredConstants,
	)
	// A zero TTL would cache forever, so it disables the cache instead
	if ttl := config.ParseDuration(cfg.Portal.ConstantsTTL, 0); ttl > 0 {
		resolver = portal.NewCachedResolver(resolver, cfg.Portal.ConfigScriptURL, ttl, logger)
	}

	auth := portal.NewAuthenticator(
		client,
		sess,
		store,
		resolver,
		portal.Credentials{Username: cfg.Portal.Username, Password: cfg.Portal.Password},
		cfg.Portal,
		logger,
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: sess,
		client:  client,
		auth:    auth,
		fetcher: portal.NewFetcher(client, auth.Login, cfg.Portal, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close session store")
	}
}

// openSessionStore selects the session backend named by cfg.Driver.
func openSessionStore(cfg config.SessionConfig, account string) (storage.SessionStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "file"
	}

	switch driver {
	case "file":
		return file.Open(cfg.Path)
	case "bolt":
		return bolt.Open(cfg.Path, account)
	case "redis":
		return redis.Open(cfg.Redis, account)
	default:
		return nil, fmt.Errorf("unsupported session driver: %s (use file, bolt or redis)", driver)
	}
}

// storeLocation describes where backend keeps the session.
func storeLocation(cfg config.SessionConfig, backend storage.SessionStore) string {
	switch b := backend.(type) {
	case *file.Store:
		return "file " + b.Path()
	case *redis.Store:
		return "redis key " + b.Key()
	case *bolt.Store:
		return "bolt database " + cfg.Path
	default:
		return "unknown"
	}
}

// openSinks builds the configured sinks. The returned func releases them.
func openSinks(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (sink.Multi, func()) {
	var sinks sink.Multi
	closers := []func(){}

	if cfg.InfluxDB.Enabled() {
		s := influx.New(cfg.InfluxDB, logger)
		if err := s.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("url", cfg.InfluxDB.URL).Msg("InfluxDB is not reachable yet")
		}
		sinks = append(sinks, s)
		closers = append(closers, s.Close)
	}

	if cfg.Metrics.Enabled {
		sinks = append(sinks, metrics.NewExporter(logger))
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(out).With().Timestamp().Logger()
}

// commandLogger is the logger for the short-lived commands, which keep
// stdout for their own output.
func commandLogger(cfg *config.Config) zerolog.Logger {
	return setupLogger(cfg.Logging, os.Stderr)
}
