package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("OPSBOARD")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional; defaults and env vars still apply.
	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

func (m *viperConfigManager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file and sends each valid reload on the returned
// channel. Updates are dropped while a previous one is still unread.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				return
			}
			if err := m.unmarshalConfig(); err != nil {
				return
			}
			select {
			case m.watchChan <- *m.Get(ctx):
			default:
			}
		})
		m.viper.WatchConfig()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readConfigFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_rps", defaults.Server.RateLimitRPS)
	m.viper.SetDefault("server.rate_limit_burst", defaults.Server.RateLimitBurst)
	m.viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Record store defaults
	m.viper.SetDefault("recordstore.type", defaults.RecordStore.Type)
	m.viper.SetDefault("recordstore.base_url", defaults.RecordStore.BaseURL)
	m.viper.SetDefault("recordstore.api_key", defaults.RecordStore.APIKey)
	m.viper.SetDefault("recordstore.postgres_url", defaults.RecordStore.PostgresURL)
	m.viper.SetDefault("recordstore.max_conns", defaults.RecordStore.MaxConns)
	m.viper.SetDefault("recordstore.timeout_seconds", defaults.RecordStore.TimeoutSeconds)

	// Cache defaults
	m.viper.SetDefault("cache.max_size", defaults.Cache.MaxSize)
	m.viper.SetDefault("cache.sweep_interval_seconds", defaults.Cache.SweepIntervalSeconds)
	m.viper.SetDefault("cache.persist", defaults.Cache.Persist)
	m.viper.SetDefault("cache.backup_max_age_hours", defaults.Cache.BackupMaxAgeHours)
	m.viper.SetDefault("cache.metrics_ttl_seconds", defaults.Cache.MetricsTTLSeconds)
	m.viper.SetDefault("cache.forecast_ttl_seconds", defaults.Cache.ForecastTTLSeconds)
	m.viper.SetDefault("cache.export_ttl_seconds", defaults.Cache.ExportTTLSeconds)

	// Forecast defaults
	m.viper.SetDefault("forecast.lookback_days", defaults.Forecast.LookbackDays)
	m.viper.SetDefault("forecast.max_forecast_days", defaults.Forecast.MaxForecastDays)
	m.viper.SetDefault("forecast.default_model", defaults.Forecast.DefaultModel)

	// Alerts defaults
	m.viper.SetDefault("alerts.enabled", defaults.Alerts.Enabled)
	m.viper.SetDefault("alerts.check_interval_seconds", defaults.Alerts.CheckIntervalSeconds)
	m.viper.SetDefault("alerts.default_cooldown_minutes", defaults.Alerts.DefaultCooldownMinutes)
	m.viper.SetDefault("alerts.history_limit", defaults.Alerts.HistoryLimit)
	m.viper.SetDefault("alerts.seed_file", defaults.Alerts.SeedFile)
	m.viper.SetDefault("alerts.timeframe", defaults.Alerts.Timeframe)
	m.viper.SetDefault("alerts.stations", defaults.Alerts.Stations)

	// Notification defaults
	m.viper.SetDefault("notifications.smtp.host", defaults.Notifications.SMTP.Host)
	m.viper.SetDefault("notifications.smtp.port", defaults.Notifications.SMTP.Port)
	m.viper.SetDefault("notifications.smtp.username", defaults.Notifications.SMTP.Username)
	m.viper.SetDefault("notifications.smtp.password", defaults.Notifications.SMTP.Password)
	m.viper.SetDefault("notifications.smtp.from", defaults.Notifications.SMTP.From)
	m.viper.SetDefault("notifications.nats.url", defaults.Notifications.NATS.URL)
	m.viper.SetDefault("notifications.nats.subject", defaults.Notifications.NATS.Subject)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)

	// Audit defaults
	m.viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	m.viper.SetDefault("audit.path", defaults.Audit.Path)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitRPS = m.viper.GetFloat64("server.rate_limit_rps")
	cfg.Server.RateLimitBurst = m.viper.GetInt("server.rate_limit_burst")
	cfg.Server.ShutdownTimeoutSeconds = m.viper.GetInt("server.shutdown_timeout_seconds")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Record store
	cfg.RecordStore.Type = m.viper.GetString("recordstore.type")
	cfg.RecordStore.BaseURL = m.viper.GetString("recordstore.base_url")
	cfg.RecordStore.APIKey = m.viper.GetString("recordstore.api_key")
	cfg.RecordStore.PostgresURL = m.viper.GetString("recordstore.postgres_url")
	cfg.RecordStore.MaxConns = m.viper.GetInt("recordstore.max_conns")
	cfg.RecordStore.TimeoutSeconds = m.viper.GetInt("recordstore.timeout_seconds")

	// Cache
	cfg.Cache.MaxSize = m.viper.GetInt("cache.max_size")
	cfg.Cache.SweepIntervalSeconds = m.viper.GetInt("cache.sweep_interval_seconds")
	cfg.Cache.Persist = m.viper.GetBool("cache.persist")
	cfg.Cache.BackupMaxAgeHours = m.viper.GetInt("cache.backup_max_age_hours")
	cfg.Cache.MetricsTTLSeconds = m.viper.GetInt("cache.metrics_ttl_seconds")
	cfg.Cache.ForecastTTLSeconds = m.viper.GetInt("cache.forecast_ttl_seconds")
	cfg.Cache.ExportTTLSeconds = m.viper.GetInt("cache.export_ttl_seconds")

	// Forecast
	cfg.Forecast.LookbackDays = m.viper.GetInt("forecast.lookback_days")
	cfg.Forecast.MaxForecastDays = m.viper.GetInt("forecast.max_forecast_days")
	cfg.Forecast.DefaultModel = m.viper.GetString("forecast.default_model")

	// Alerts
	cfg.Alerts.Enabled = m.viper.GetBool("alerts.enabled")
	cfg.Alerts.CheckIntervalSeconds = m.viper.GetInt("alerts.check_interval_seconds")
	cfg.Alerts.DefaultCooldownMinutes = m.viper.GetInt("alerts.default_cooldown_minutes")
	cfg.Alerts.HistoryLimit = m.viper.GetInt("alerts.history_limit")
	cfg.Alerts.SeedFile = m.viper.GetString("alerts.seed_file")
	cfg.Alerts.Timeframe = m.viper.GetString("alerts.timeframe")
	cfg.Alerts.Stations = m.viper.GetStringSlice("alerts.stations")

	// Notifications
	cfg.Notifications.SMTP.Host = m.viper.GetString("notifications.smtp.host")
	cfg.Notifications.SMTP.Port = m.viper.GetInt("notifications.smtp.port")
	cfg.Notifications.SMTP.Username = m.viper.GetString("notifications.smtp.username")
	cfg.Notifications.SMTP.Password = m.viper.GetString("notifications.smtp.password")
	cfg.Notifications.SMTP.From = m.viper.GetString("notifications.smtp.from")
	cfg.Notifications.NATS.URL = m.viper.GetString("notifications.nats.url")
	cfg.Notifications.NATS.Subject = m.viper.GetString("notifications.nats.subject")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	// Audit
	cfg.Audit.Enabled = m.viper.GetBool("audit.enabled")
	cfg.Audit.Path = m.viper.GetString("audit.path")

	applyEnvOverrides(cfg)

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides applies environment variable overrides for secrets.
func applyEnvOverrides(cfg *Config) {
	if pw := os.Getenv("SMTP_PASSWORD"); pw != "" {
		cfg.Notifications.SMTP.Password = pw
	}
	if key := os.Getenv("RECORDSTORE_API_KEY"); key != "" {
		cfg.RecordStore.APIKey = key
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.RecordStore.PostgresURL = url
	}
}
