package models

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	AuthStore AuthStoreConfig `json:"auth_store"`
	Redis     RedisConfig     `json:"redis"`
	SQLite    SQLiteConfig    `json:"sqlite"`
	Webhook   WebhookConfig   `json:"webhook"`
	Media     MediaConfig     `json:"media"`
	Sessions  SessionsConfig  `json:"sessions"`
	Protocol  ProtocolConfig  `json:"protocol"`
	Stream    StreamConfig    `json:"stream"`
	Tracing   TracingConfig   `json:"tracing"`
	Logging   LoggingConfig   `json:"logging"`
	LogLevel  string          `json:"log_level"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port               int    `json:"port"`
	APIKey             string `json:"api_key"`
	ReadTimeoutSec     int    `json:"read_timeout_sec"`
	WriteTimeoutSec    int    `json:"write_timeout_sec"`
	IdleTimeoutSec     int    `json:"idle_timeout_sec"`
	ShutdownTimeoutSec int    `json:"shutdown_timeout_sec"`
	MaxBodyBytes       int64  `json:"max_body_bytes"`
	// TrustedProxies lists CIDRs whose forwarding headers are honored.
	TrustedProxies []string `json:"trusted_proxies"`
}

// AuthStoreConfig selects and tunes the credential store
type AuthStoreConfig struct {
	Backend            string `json:"backend"`
	KeyPrefix          string `json:"key_prefix"`
	MaxCommitRetries   int    `json:"max_commit_retries"`
	CommitRetryDelayMs int    `json:"commit_retry_delay_ms"`
	EncryptValues      bool   `json:"encrypt_values"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

// WebhookConfig holds outbound webhook delivery settings
type WebhookConfig struct {
	TimeoutSec int    `json:"timeout_sec"`
	UserAgent  string `json:"user_agent"`
}

// MediaConfig holds media storage, transcoding and cleanup settings
type MediaConfig struct {
	Dir                string `json:"dir"`
	CleanupMaxAgeHours int    `json:"cleanup_max_age_hours"`
	CleanupSchedule    string `json:"cleanup_schedule"`
	FFmpegPath         string `json:"ffmpeg_path"`
	AudioBitrate       string `json:"audio_bitrate"`
	DisableTranscode   bool   `json:"disable_transcode"`
}

// SessionsConfig holds defaults for new sessions
type SessionsConfig struct {
	DefaultClientName string `json:"default_client_name"`
	IncludeMedia      *bool  `json:"include_media,omitempty"`
	SyncFullHistory   bool   `json:"sync_full_history"`
	// ReconnectConcurrency bounds startup reconnects; 0 is unbounded.
	ReconnectConcurrency int `json:"reconnect_concurrency"`
	// ClientVersion is "default" or MAJOR.MINOR.PATCH.
	ClientVersion string `json:"client_version"`
}

type ProtocolConfig struct {
	Driver    string `json:"driver"`
	StorePath string `json:"store_path"`
}

// StreamConfig holds the live event websocket settings
type StreamConfig struct {
	BufferSize      int      `json:"buffer_size"`
	WriteTimeoutSec int      `json:"write_timeout_sec"`
	OriginPatterns  []string `json:"origin_patterns"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

// LoggingConfig enables an optional rotating log file
type LoggingConfig struct {
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// IncludeMediaDefault returns sessions.include_media, true when unset.
func (c SessionsConfig) IncludeMediaDefault() bool {
	if c.IncludeMedia == nil {
		return true
	}
	return *c.IncludeMedia
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
