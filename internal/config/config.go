package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"wagateway/internal/authstore"
	"wagateway/internal/constants"
	"wagateway/internal/models"
	"wagateway/internal/security"
	pkgconstants "wagateway/pkg/constants"
	"wagateway/pkg/whatsapp"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

var (
	ErrMissingRedisURL   = models.ConfigError{Message: "missing redis url"}
	ErrMissingSQLitePath = models.ConfigError{Message: "missing sqlite path"}
	ErrMissingMediaDir   = models.ConfigError{Message: "missing media directory"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		c.Server.ShutdownTimeoutSec = constants.DefaultGracefulShutdownSec
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = constants.DefaultMaxRequestBodyBytes
	}

	if c.AuthStore.Backend == "" {
		c.AuthStore.Backend = constants.DefaultAuthStoreBackend
	}
	if c.AuthStore.KeyPrefix == "" {
		c.AuthStore.KeyPrefix = pkgconstants.DefaultKeyPrefix
	}
	if c.AuthStore.MaxCommitRetries <= 0 {
		c.AuthStore.MaxCommitRetries = pkgconstants.DefaultMaxCommitRetries
	}
	if c.AuthStore.CommitRetryDelayMs <= 0 {
		c.AuthStore.CommitRetryDelayMs = pkgconstants.DefaultCommitRetryDelayMs
	}
	if c.Redis.URL == "" && c.AuthStore.Backend == BackendRedis {
		c.Redis.URL = constants.DefaultRedisURL
	}
	if c.SQLite.Path == "" && c.AuthStore.Backend == BackendSQLite {
		c.SQLite.Path = constants.DefaultSQLitePath
	}

	if c.Webhook.TimeoutSec <= 0 {
		c.Webhook.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}
	if c.Webhook.UserAgent == "" {
		c.Webhook.UserAgent = constants.DefaultWebhookUserAgent
	}

	if c.Media.Dir == "" {
		c.Media.Dir = pkgconstants.DefaultMediaDir
	}
	if c.Media.CleanupMaxAgeHours <= 0 {
		c.Media.CleanupMaxAgeHours = constants.DefaultMediaCleanupMaxAgeHours
	}
	if c.Media.CleanupSchedule == "" {
		c.Media.CleanupSchedule = constants.DefaultMediaCleanupSchedule
	}
	if c.Media.FFmpegPath == "" {
		c.Media.FFmpegPath = constants.DefaultFFmpegPath
	}
	if c.Media.AudioBitrate == "" {
		c.Media.AudioBitrate = constants.DefaultAudioBitrate
	}

	if c.Sessions.DefaultClientName == "" {
		c.Sessions.DefaultClientName = pkgconstants.DefaultClientName
	}
	if c.Sessions.ClientVersion == "" {
		c.Sessions.ClientVersion = "default"
	}
	if c.Protocol.Driver == "" {
		c.Protocol.Driver = constants.DefaultProtocolDriver
	}
	if c.Protocol.StorePath == "" {
		c.Protocol.StorePath = constants.DefaultProtocolStorePath
	}

	if c.Stream.BufferSize <= 0 {
		c.Stream.BufferSize = constants.DefaultStreamSubscriberBacklog
	}
	if c.Stream.WriteTimeoutSec <= 0 {
		c.Stream.WriteTimeoutSec = constants.DefaultStreamWriteTimeoutSec
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = constants.DefaultTracingService
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = constants.DefaultTracingSampleRate
	}

	if c.Logging.File != "" {
		if c.Logging.MaxSizeMB <= 0 {
			c.Logging.MaxSizeMB = constants.DefaultLogMaxSizeMB
		}
		if c.Logging.MaxBackups <= 0 {
			c.Logging.MaxBackups = constants.DefaultLogMaxBackups
		}
		if c.Logging.MaxAgeDays <= 0 {
			c.Logging.MaxAgeDays = constants.DefaultLogMaxAgeDays
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = constants.DefaultLogLevel
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	// SECURITY: the API key should be set via environment variables
	if key := os.Getenv("WAGATEWAY_API_KEY"); key != "" {
		c.Server.APIKey = key
	}
	if port := os.Getenv("WAGATEWAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if backend := os.Getenv("WAGATEWAY_AUTH_BACKEND"); backend != "" {
		c.AuthStore.Backend = backend
	}
	if url := os.Getenv("WAGATEWAY_REDIS_URL"); url != "" {
		c.Redis.URL = url
	}
	if path := os.Getenv("WAGATEWAY_SQLITE_PATH"); path != "" {
		c.SQLite.Path = path
	}
	if dir := os.Getenv("WAGATEWAY_MEDIA_DIR"); dir != "" {
		c.Media.Dir = dir
	}
	if driver := os.Getenv("WAGATEWAY_PROTOCOL_DRIVER"); driver != "" {
		c.Protocol.Driver = driver
	}
	if path := os.Getenv("WAGATEWAY_PROTOCOL_STORE_PATH"); path != "" {
		c.Protocol.StorePath = path
	}
	if level := os.Getenv("WAGATEWAY_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

func validate(c *models.Config) error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port %d", c.Server.Port)}
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid trusted proxy %q", cidr)}
		}
	}

	switch c.AuthStore.Backend {
	case BackendRedis:
		if c.Redis.URL == "" {
			return ErrMissingRedisURL
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return ErrMissingSQLitePath
		}
	case BackendMemory:
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown auth store backend %q", c.AuthStore.Backend)}
	}
	if strings.Contains(c.AuthStore.KeyPrefix, "*") {
		return models.ConfigError{Message: "auth store key prefix must not contain '*'"}
	}

	if c.Media.Dir == "" {
		return ErrMissingMediaDir
	}
	if _, err := cron.ParseStandard(c.Media.CleanupSchedule); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid media cleanup schedule %q: %v", c.Media.CleanupSchedule, err)}
	}

	if _, err := whatsapp.ParseVersion(c.Sessions.ClientVersion); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Sessions.ReconnectConcurrency < 0 {
		return models.ConfigError{Message: "sessions.reconnect_concurrency must not be negative"}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log level %q", c.LogLevel)}
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if c.AuthStore.EncryptValues && os.Getenv(authstore.EncryptionSecretEnv) == "" {
		return models.ConfigError{Message: fmt.Sprintf("auth_store.encrypt_values requires %s", authstore.EncryptionSecretEnv)}
	}

	isProduction := os.Getenv("WAGATEWAY_ENV") == "production"
	if isProduction {
		if c.Server.APIKey == "" {
			return models.ConfigError{Message: "API key is required in production (set WAGATEWAY_API_KEY environment variable)"}
		}
		if len(c.Server.APIKey) < constants.MinAPIKeyLength {
			return models.ConfigError{Message: fmt.Sprintf("API key must be at least %d characters long", constants.MinAPIKeyLength)}
		}
		// Debug logs carry message metadata
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Server.APIKey == "" {
		fmt.Fprintf(os.Stderr, "WARNING: API key not set. Set WAGATEWAY_API_KEY environment variable for security.\n")
	}

	return nil
}
