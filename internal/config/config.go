package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"anonrelay/internal/constants"
	"anonrelay/internal/models"
	"anonrelay/internal/security"
)

var (
	ErrMissingGatewayURL   = models.ConfigError{Message: "missing gateway API URL"}
	ErrMissingGatewayToken = models.ConfigError{Message: "missing gateway token"}
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
	ErrMissingMediaDir     = models.ConfigError{Message: "missing media cache directory"}
	ErrMissingAdminChat    = models.ConfigError{Message: "missing admin chat id"}
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

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Gateway.APIBaseURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Gateway.Token == "" {
		return ErrMissingGatewayToken
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Media.CacheDir == "" {
		return ErrMissingMediaDir
	}
	if c.AdminChatID == 0 {
		return ErrMissingAdminChat
	}

	if c.Pseudonym.PoolSize <= 0 {
		c.Pseudonym.PoolSize = constants.DefaultPseudonymPoolSize
	}
	if c.Pseudonym.FreshnessWindowH <= 0 {
		c.Pseudonym.FreshnessWindowH = constants.DefaultFreshnessWindowHrs
	}
	if c.Media.AlbumFlushLatency <= 0 {
		c.Media.AlbumFlushLatency = constants.DefaultAlbumFlushLatencyMs
	}
	if c.Relay.DefaultCooldownSec < 0 {
		return models.ConfigError{Message: "default cooldown cannot be negative"}
	}
	if c.Generator.MaxAttempts <= 0 {
		c.Generator.MaxAttempts = constants.DefaultGeneratorAttempts
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultIdleTimeoutSec
	}
	if c.Server.ReadHeaderSec <= 0 {
		c.Server.ReadHeaderSec = constants.DefaultReadHeaderSec
	}
	if c.Server.ShutdownGraceSec <= 0 {
		c.Server.ShutdownGraceSec = constants.DefaultShutdownGraceSec
	}
	if c.Server.CleanupIntervalHr <= 0 {
		c.Server.CleanupIntervalHr = constants.CleanupSchedulerIntervalHours
	}

	seen := make(map[int64]bool)
	for _, id := range c.AdminUserIDs {
		if seen[id] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate admin user id: %d", id)}
		}
		seen[id] = true
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("ANONRELAY_GATEWAY_URL"); url != "" {
		c.Gateway.APIBaseURL = url
	}

	// SECURITY: tokens and secrets should be set via environment variables
	if token := os.Getenv("ANONRELAY_GATEWAY_TOKEN"); token != "" {
		c.Gateway.Token = token
	}
	if secret := os.Getenv("ANONRELAY_WEBHOOK_SECRET"); secret != "" {
		c.Gateway.WebhookSecret = secret
	}

	if path := os.Getenv("ANONRELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if dir := os.Getenv("ANONRELAY_MEDIA_DIR"); dir != "" {
		c.Media.CacheDir = dir
	}
	if chat := os.Getenv("ANONRELAY_ADMIN_CHAT_ID"); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			c.AdminChatID = id
		}
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("ANONRELAY_ENV") == "production"

	if isProduction {
		if c.Gateway.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set ANONRELAY_WEBHOOK_SECRET environment variable)"}
		}

		if len(c.Gateway.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}

		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		if c.Gateway.WebhookSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set ANONRELAY_WEBHOOK_SECRET environment variable for security.\n")
		}
	}

	return nil
}
