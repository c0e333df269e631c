package models

// Config holds the application configuration
type Config struct {
	Gateway       GatewayConfig   `json:"gateway"`
	Database      DatabaseConfig  `json:"database"`
	Relay         RelayConfig     `json:"relay"`
	Pseudonym     PseudonymConfig `json:"pseudonym"`
	Media         MediaConfig     `json:"media"`
	Generator     GeneratorConfig `json:"generator"`
	Retry         RetryConfig     `json:"retry"`
	Server        ServerConfig    `json:"server"`
	Tracing       TracingConfig   `json:"tracing"`
	LogLevel      string          `json:"log_level"`
	RetentionDays int             `json:"retentionDays"`
	AdminChatID   int64           `json:"adminChatId"`
	AdminUserIDs  []int64         `json:"adminUserIds"`
}

// GatewayConfig holds bot gateway related configurations
type GatewayConfig struct {
	APIBaseURL    string `json:"api_base_url"`
	Token         string `json:"token"`
	TimeoutMs     int    `json:"timeout_ms"`
	WebhookSecret string `json:"webhook_secret"`
	BotUsername   string `json:"botUsername"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RelayConfig holds relay dispatch related configurations
type RelayConfig struct {
	DefaultCooldownSec int    `json:"defaultCooldownSec"`
	MessageEffectID    string `json:"messageEffectId,omitempty"`
}

// PseudonymConfig holds pseudonym allocation related configurations
type PseudonymConfig struct {
	PoolSize         int `json:"poolSize"`
	FreshnessWindowH int `json:"freshnessWindowHours"`
}

// MediaConfig holds media handling related configurations
type MediaConfig struct {
	CacheDir          string `json:"cache_dir"`
	AlbumFlushLatency int    `json:"albumFlushLatencyMs"`
}

// GeneratorConfig holds synthesis provider related configurations
type GeneratorConfig struct {
	VoiceProviders []ProviderConfig `json:"voiceProviders"`
	ImageProviders []ProviderConfig `json:"imageProviders"`
	CardAssetsDir  string           `json:"cardAssetsDir"`
	MaxAttempts    int              `json:"maxAttempts"`
}

// ProviderConfig identifies one upstream synthesis service
type ProviderConfig struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	APIKey    string `json:"api_key,omitempty"`
	TimeoutMs int    `json:"timeout_ms"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ServerConfig holds webhook server related configurations
type ServerConfig struct {
	Port              int `json:"port"`
	ReadTimeoutSec    int `json:"readTimeoutSec"`
	WriteTimeoutSec   int `json:"writeTimeoutSec"`
	IdleTimeoutSec    int `json:"idleTimeoutSec"`
	ReadHeaderSec     int `json:"readHeaderSec"`
	ShutdownGraceSec  int `json:"shutdownGraceSec"`
	CleanupIntervalHr int `json:"cleanupIntervalHours"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
