package config

import "context"

// Package config provides configuration management for opsboard-analytics.
//
// Configuration Sources (priority order, high to low):
//  1. Environment variables (OPSBOARD_* prefix, "." replaced by "_")
//  2. YAML config file (default: /etc/opsboard/analytics.yaml)
//  3. Built-in defaults
//
// Secrets may also come from SMTP_PASSWORD, RECORDSTORE_API_KEY and
// DATABASE_URL so they stay out of the config file.
//
// Main Configuration Sections:
//
//  1. Server: listen address, CORS/WebSocket origins, rate limit
//  2. Database: SQLite file for cache persistence, thresholds and alert history
//  3. RecordStore: where daily reports are read from ("memory" | "http" | "postgres")
//  4. Cache: result cache size, sweep interval and TTLs
//  5. Forecast: lookback window, horizon limit and default model
//  6. Alerts: evaluation interval, cooldown, history limit, seed file
//  7. Notifications: SMTP transport and NATS event bus
//  8. Logging: level, format and rotated file
//  9. Audit: audit trail file
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host string
		Port int
		// AllowedOrigins is a list of origins permitted for CORS and the
		// alert stream WebSocket. Use ["*"] to allow any origin.
		AllowedOrigins         []string
		RateLimitRPS           float64
		RateLimitBurst         int
		ShutdownTimeoutSeconds int
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// RecordStore configuration
	RecordStore struct {
		Type           string
		BaseURL        string
		APIKey         string
		PostgresURL    string
		MaxConns       int
		TimeoutSeconds int
	}

	// Cache configuration
	Cache struct {
		MaxSize              int
		SweepIntervalSeconds int
		Persist              bool
		BackupMaxAgeHours    int
		MetricsTTLSeconds    int
		ForecastTTLSeconds   int
		ExportTTLSeconds     int
	}

	// Forecast configuration
	Forecast struct {
		LookbackDays    int
		MaxForecastDays int
		DefaultModel    string
	}

	// Alerts configuration
	Alerts struct {
		Enabled                bool
		CheckIntervalSeconds   int
		DefaultCooldownMinutes int
		HistoryLimit           int
		SeedFile               string
		Timeframe              string
		Stations               []string
	}

	// Notifications configuration
	Notifications struct {
		SMTP struct {
			Host     string
			Port     int
			Username string
			Password string
			From     string
		}
		NATS struct {
			URL     string
			Subject string
		}
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	// Audit configuration
	Audit struct {
		Enabled bool
		Path    string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "/etc/opsboard/analytics.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager(DefaultConfigPath)
}
