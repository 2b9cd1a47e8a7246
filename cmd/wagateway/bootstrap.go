package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"wagateway/internal/authstore"
	"wagateway/internal/config"
	"wagateway/internal/constants"
	"wagateway/internal/models"
	"wagateway/internal/retry"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// configureLogger applies formatter, level and the optional rotating file.
// The returned file is nil when no log file is configured.
func configureLogger(logger *logrus.Logger, cfg *models.Config, verbose bool) *lumberjack.Logger {
	if verbose {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	applyLogLevel(logger, cfg.LogLevel, verbose)

	if cfg.Logging.File == "" {
		return nil
	}
	file := &lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    orDefault(cfg.Logging.MaxSizeMB, constants.DefaultLogMaxSizeMB),
		MaxBackups: orDefault(cfg.Logging.MaxBackups, constants.DefaultLogMaxBackups),
		MaxAge:     orDefault(cfg.Logging.MaxAgeDays, constants.DefaultLogMaxAgeDays),
		Compress:   cfg.Logging.Compress,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	return file
}

func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if level == "" {
		level = constants.DefaultLogLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// openBackend builds the configured credential store backend and waits for
// it to answer a ping.
func openBackend(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (authstore.Backend, error) {
	var backend authstore.Backend
	switch cfg.AuthStore.Backend {
	case config.BackendRedis:
		redisBackend, err := authstore.DialRedis(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		backend = redisBackend
	case config.BackendSQLite:
		sqliteBackend, err := authstore.NewSQLiteBackend(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		backend = sqliteBackend
	case config.BackendMemory:
		logger.Warn("Using in-memory credential store; sessions will not survive a restart")
		backend = authstore.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown auth store backend %q", cfg.AuthStore.Backend)
	}

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultStartupRetryInitialMs * time.Millisecond,
		MaxDelay:     constants.DefaultStartupRetryMaxSec * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultStartupRetryAttempts,
		Jitter:       true,
	})
	backoff.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.WithFields(logrus.Fields{
			constants.LogFieldAttempt: attempt,
			"retry_in":                delay.String(),
		}).WithError(err).Warn("Credential store not reachable yet")
	}

	if err := backoff.Retry(ctx, func(int) error { return backend.Ping(ctx) }); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("credential store unreachable after %d attempts: %w", backoff.MaxAttempts(), err)
	}
	return backend, nil
}

func storeOptions(cfg models.AuthStoreConfig) (authstore.Options, error) {
	opts := authstore.DefaultOptions()
	if cfg.KeyPrefix != "" {
		opts.KeyPrefix = cfg.KeyPrefix
	}
	if cfg.MaxCommitRetries > 0 {
		opts.MaxCommitRetries = cfg.MaxCommitRetries
	}
	if cfg.CommitRetryDelayMs > 0 {
		opts.CommitRetryDelay = time.Duration(cfg.CommitRetryDelayMs) * time.Millisecond
	}
	if cfg.EncryptValues {
		sealer, err := authstore.NewSealerFromEnv()
		if err != nil {
			return opts, err
		}
		opts.Sealer = sealer
	}
	return opts, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
