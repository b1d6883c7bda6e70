package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("VAULTSCAN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Logging.Level = GetEnvOrDefault("VAULTSCAN_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = GetEnvOrDefault("VAULTSCAN_LOG_FORMAT", cfg.Logging.Format)

	// Engine settings
	if db, ok := os.LookupEnv("VAULTSCAN_DATABASE_PATH"); ok {
		cfg.Engine.DatabasePath = db
	}
	if grace := os.Getenv("VAULTSCAN_DISPOSE_GRACE"); grace != "" {
		if d, err := time.ParseDuration(grace); err == nil {
			cfg.Engine.DisposeGrace = d
		}
	}
	if watch := os.Getenv("VAULTSCAN_WATCH_DATABASE"); watch != "" {
		if b, err := strconv.ParseBool(watch); err == nil {
			cfg.Engine.WatchDatabase = b
		}
	}

	if hidden := os.Getenv("VAULTSCAN_INCLUDE_HIDDEN"); hidden != "" {
		if b, err := strconv.ParseBool(hidden); err == nil {
			cfg.Scan.IncludeHidden = b
		}
	}

	cfg.Reports.DSN = GetEnvOrDefault("VAULTSCAN_REPORTS_DSN", cfg.Reports.DSN)
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
