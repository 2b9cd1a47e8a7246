package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"wagateway/internal/authstore"
	"wagateway/internal/config"
	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/media"
	"wagateway/internal/models"
	"wagateway/internal/registry"
	"wagateway/internal/session"
	"wagateway/internal/stream"
	"wagateway/internal/tracing"
	"wagateway/internal/webhook"
	"wagateway/pkg/whatsapp"
	_ "wagateway/pkg/whatsapp/whatsmeowdriver"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (text output at debug level)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wagateway %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *verbose); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context, path string, verbose bool) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logFile := configureLogger(logger, cfg, verbose); logFile != nil {
		defer logFile.Close()
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wagateway")

	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	dialer, clientVersion, err := openProtocol(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := dialer.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close protocol driver")
			}
		}()
	}

	opts, err := storeOptions(cfg.AuthStore)
	if err != nil {
		return err
	}
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	credentials := authstore.NewManager(backend, opts, logger)
	defer func() {
		if err := credentials.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close credential store")
		}
	}()

	dispatcher := webhook.NewDispatcher(webhook.Config{
		Timeout:   time.Duration(cfg.Webhook.TimeoutSec) * time.Second,
		UserAgent: cfg.Webhook.UserAgent,
	}, nil, logger)

	hub := stream.NewHub(stream.Options{
		BufferSize:     cfg.Stream.BufferSize,
		WriteTimeout:   time.Duration(cfg.Stream.WriteTimeoutSec) * time.Second,
		OriginPatterns: cfg.Stream.OriginPatterns,
	}, logger)
	dispatcher.SetTap(hub)

	storage, err := media.NewStorage(cfg.Media.Dir)
	if err != nil {
		return err
	}
	var transcoder media.Transcoder
	if !cfg.Media.DisableTranscode {
		transcoder = media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.AudioBitrate)
	}
	extractor := media.NewExtractor(storage, transcoder, logger)

	cleaner := media.NewCleaner(storage.Dir(), time.Duration(cfg.Media.CleanupMaxAgeHours)*time.Hour, cfg.Media.CleanupSchedule, logger)
	if err := cleaner.Start(ctx); err != nil {
		return err
	}
	defer cleaner.Stop()

	sessions := registry.New(session.Deps{
		Dialer:      dialer,
		Credentials: credentials,
		Notifier:    dispatcher,
		Media:       extractor,
		Version:     clientVersion,
		Logger:      logger,
	}, credentials, registry.Config{
		ReconnectConcurrency: cfg.Sessions.ReconnectConcurrency,
		Defaults: session.Options{
			ClientName:      cfg.Sessions.DefaultClientName,
			IncludeMedia:    cfg.Sessions.IncludeMediaDefault(),
			SyncFullHistory: cfg.Sessions.SyncFullHistory,
		},
	})

	if err := sessions.ReconnectFromAuthStore(ctx); err != nil {
		logger.WithError(err).Warn("Some stored connections could not be restored")
	}

	var apiKey atomic.Pointer[string]
	apiKey.Store(&cfg.Server.APIKey)

	watcher := config.NewWatcher(path, cfg, 0, logger)
	watcher.OnChange(func(updated *models.Config) {
		applyLogLevel(logger, updated.LogLevel, verbose)
		key := updated.Server.APIKey
		apiKey.Store(&key)
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server, err := NewServer(cfg.Server, sessions, storage, hub, func() string { return *apiKey.Load() }, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), seconds(cfg.Server.ShutdownTimeoutSec, constants.DefaultGracefulShutdownSec))
	defer cancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Webhook deliveries still in flight at shutdown")
	}

	logger.WithField(constants.LogFieldCount, sessions.Len()).Info("Server shutdown completed; sessions resume on next start")
	return nil
}

// openProtocol resolves the configured driver and prepares it for dialing.
func openProtocol(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (whatsapp.Dialer, *whatsapp.Version, error) {
	dialer, err := whatsapp.Open(cfg.Protocol.Driver)
	if err != nil {
		return nil, nil, apperrors.NewConfigError("protocol.driver", err.Error())
	}
	version, err := whatsapp.ParseVersion(cfg.Sessions.ClientVersion)
	if err != nil {
		return nil, nil, apperrors.NewConfigError("sessions.client_version", err.Error())
	}

	if configurer, ok := dialer.(whatsapp.Configurer); ok {
		err := configurer.Configure(ctx, whatsapp.Settings{
			StorePath: cfg.Protocol.StorePath,
			Logger:    logger.WithField("driver", cfg.Protocol.Driver),
		})
		if err != nil {
			return nil, nil, apperrors.NewConfigError("protocol.store_path", fmt.Sprintf("driver %s setup failed: %v", cfg.Protocol.Driver, err))
		}
	}
	return dialer, version, nil
}
