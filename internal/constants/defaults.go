package constants

// Pseudonym allocation
const (
	DefaultPseudonymPoolSize  = 456
	DefaultFreshnessWindowHrs = 24
	PseudonymTokenFormat      = "№%03d"
	PseudonymUnknownToken     = "№???"
)

// Media group aggregation
const (
	DefaultAlbumFlushLatencyMs = 500
)

// Cooldown
const (
	GlobalCooldownKey  = "message_cooldown"
	DefaultCooldownSec = 0
)

// Retry and backoff defaults
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
	DefaultGeneratorAttempts     = 3
)

// Retention
const (
	DefaultRetentionDays          = 30
	CleanupSchedulerIntervalHours = 24
	OrphanedMediaMaxAgeHours      = 24
)

// Server defaults
const (
	DefaultServerPort       = 8084
	DefaultReadTimeoutSec   = 15
	DefaultWriteTimeoutSec  = 15
	DefaultIdleTimeoutSec   = 60
	DefaultReadHeaderSec    = 10
	DefaultShutdownGraceSec = 30
	DefaultHTTPTimeoutSec   = 30
)

// Encryption parameters for the optional at-rest field encryption.
const (
	EncryptionSalt       = "anonrelay-db-salt-v1"
	EncryptionLookupSalt = "anonrelay-lookup-salt-v1"
)

// Privacy settings
const (
	DefaultIDMaskLength = 4
)
