package constants

// Credential store layout shared with other tools reading the same backend.
const (
	DefaultKeyPrefix          = "@baileys-api:connections"
	AuthStateSuffix           = "authState"
	CredsField                = "creds"
	MetadataField             = "metadata"
	DefaultMaxCommitRetries   = 3
	DefaultCommitRetryDelayMs = 200
)

// Session defaults
const (
	DefaultClientName      = "Chrome"
	DefaultIncludeMedia    = true
	DefaultSyncFullHistory = false
)

// Media storage
const (
	DefaultMediaDir             = "media"
	DefaultFilePermissions      = 0640
	DefaultDirectoryPermissions = 0750
)
