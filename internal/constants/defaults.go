package constants

// Default server values
const (
	DefaultServerPort              = 3025
	DefaultServerReadTimeoutSec    = 15
	DefaultServerWriteTimeoutSec   = 30
	DefaultServerIdleTimeoutSec    = 60
	DefaultGracefulShutdownSec     = 30
	DefaultMaxRequestBodyBytes     = 16 * 1024 * 1024
	DefaultConfigWatchIntervalSec  = 10
	DefaultWebhookTimeoutSec       = 15
	DefaultWebhookUserAgent        = "wagateway/1.0"
	DefaultStreamWriteTimeoutSec   = 5
	DefaultStreamSubscriberBacklog = 64
)

// Default credential store values
const (
	DefaultAuthStoreBackend      = "redis"
	DefaultRedisURL              = "redis://localhost:6379/0"
	DefaultSQLitePath            = "auth_state.db"
	DefaultStartupRetryInitialMs = 500
	DefaultStartupRetryMaxSec    = 5
	DefaultStartupRetryAttempts  = 5
)

// Default media values
const (
	DefaultMediaCleanupMaxAgeHours = 24
	DefaultMediaCleanupSchedule    = "@every 1h"
	DefaultFFmpegPath              = "ffmpeg"
	DefaultAudioBitrate            = "192k"
	DefaultAudioMimetype           = "audio/mp3"
)

// Default logging values
const (
	DefaultLogLevel          = "info"
	DefaultLogMaxSizeMB      = 100
	DefaultLogMaxBackups     = 5
	DefaultLogMaxAgeDays     = 28
	DefaultProtocolDriver    = "whatsmeow"
	DefaultProtocolStorePath = "whatsmeow.db"
	DefaultTracingService    = "wagateway"
	DefaultTracingSampleRate = 0.1
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)

// Validation limits
const (
	MinPhoneNumberLength = 7
	MaxPhoneNumberLength = 20
	MaxMessageIDLength   = 256
	MaxJIDLength         = 128
	MinAPIKeyLength      = 16
)
