package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/opsboard/opsboard-analytics/internal/analytics"
	"github.com/opsboard/opsboard-analytics/internal/analytics/forecasting"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps", "rate_limit_rps cannot be negative, got %.2f", c.Server.RateLimitRPS)
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst", "rate_limit_burst must be at least 1 when rate limiting is enabled")
	}

	// Database
	if c.Database.SQLitePath == "" {
		add("database.sqlite_path", "sqlite_path is required")
	}

	// Record store
	switch c.RecordStore.Type {
	case "memory":
	case "http":
		if u, err := url.Parse(c.RecordStore.BaseURL); c.RecordStore.BaseURL == "" || err != nil || u.Host == "" {
			add("recordstore.base_url", "a valid base_url is required when type is http")
		}
	case "postgres":
		if c.RecordStore.PostgresURL == "" {
			add("recordstore.postgres_url", "postgres_url is required when type is postgres")
		}
		if c.RecordStore.MaxConns < 0 {
			add("recordstore.max_conns", "max_conns cannot be negative, got %d", c.RecordStore.MaxConns)
		}
	default:
		add("recordstore.type", "invalid record store type '%s', must be one of: memory, http, postgres", c.RecordStore.Type)
	}
	if c.RecordStore.TimeoutSeconds < 1 {
		add("recordstore.timeout_seconds", "timeout must be at least 1 second, got %d", c.RecordStore.TimeoutSeconds)
	}

	// Cache
	if c.Cache.MaxSize < 1 {
		add("cache.max_size", "max_size must be at least 1, got %d", c.Cache.MaxSize)
	}
	if c.Cache.SweepIntervalSeconds < 1 {
		add("cache.sweep_interval_seconds", "sweep interval must be at least 1 second, got %d", c.Cache.SweepIntervalSeconds)
	}
	for field, v := range map[string]int{
		"cache.metrics_ttl_seconds":  c.Cache.MetricsTTLSeconds,
		"cache.forecast_ttl_seconds": c.Cache.ForecastTTLSeconds,
		"cache.export_ttl_seconds":   c.Cache.ExportTTLSeconds,
	} {
		if v < 1 {
			add(field, "ttl must be at least 1 second, got %d", v)
		}
	}

	// Forecast
	if c.Forecast.LookbackDays < forecasting.MinHistoryDays {
		add("forecast.lookback_days", "lookback_days must be at least %d, got %d", forecasting.MinHistoryDays, c.Forecast.LookbackDays)
	}
	if c.Forecast.MaxForecastDays < 1 {
		add("forecast.max_forecast_days", "max_forecast_days must be at least 1, got %d", c.Forecast.MaxForecastDays)
	}
	if !forecasting.Model(c.Forecast.DefaultModel).Valid() {
		add("forecast.default_model", "unknown model '%s'", c.Forecast.DefaultModel)
	}

	// Alerts
	if c.Alerts.Enabled {
		if c.Alerts.CheckIntervalSeconds < 1 {
			add("alerts.check_interval_seconds", "check interval must be at least 1 second, got %d", c.Alerts.CheckIntervalSeconds)
		}
		if _, err := analytics.TimeframeDays(c.Alerts.Timeframe); err != nil {
			add("alerts.timeframe", "%v", err)
		}
	}
	if c.Alerts.DefaultCooldownMinutes < 0 {
		add("alerts.default_cooldown_minutes", "cooldown cannot be negative, got %d", c.Alerts.DefaultCooldownMinutes)
	}
	if c.Alerts.HistoryLimit < 1 {
		add("alerts.history_limit", "history_limit must be at least 1, got %d", c.Alerts.HistoryLimit)
	}

	// Notifications
	if c.Notifications.SMTP.Host != "" {
		if c.Notifications.SMTP.Port < 1 || c.Notifications.SMTP.Port > 65535 {
			add("notifications.smtp.port", "port must be between 1 and 65535, got %d", c.Notifications.SMTP.Port)
		}
		if !strings.Contains(c.Notifications.SMTP.From, "@") {
			add("notifications.smtp.from", "from must be an email address when smtp is configured")
		}
	}
	if c.Notifications.NATS.URL != "" && c.Notifications.NATS.Subject == "" {
		add("notifications.nats.subject", "subject is required when nats url is set")
	}

	// Logging
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "invalid log format '%s', must be one of: json, console", c.Logging.Format)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.Path == "" {
		add("audit.path", "path is required when audit is enabled")
	}

	return errs
}
