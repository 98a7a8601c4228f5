package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitRPS = 20
	cfg.Server.RateLimitBurst = 40
	cfg.Server.ShutdownTimeoutSeconds = 15

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/opsboard/analytics.db"

	// Record store defaults
	cfg.RecordStore.Type = "postgres"
	cfg.RecordStore.MaxConns = 8
	cfg.RecordStore.TimeoutSeconds = 15

	// Cache defaults
	cfg.Cache.MaxSize = 100
	cfg.Cache.SweepIntervalSeconds = 60
	cfg.Cache.Persist = true
	cfg.Cache.BackupMaxAgeHours = 24
	cfg.Cache.MetricsTTLSeconds = 300
	cfg.Cache.ForecastTTLSeconds = 1800
	cfg.Cache.ExportTTLSeconds = 600

	// Forecast defaults
	cfg.Forecast.LookbackDays = 90
	cfg.Forecast.MaxForecastDays = 90
	cfg.Forecast.DefaultModel = "exponential_smoothing"

	// Alerts defaults
	cfg.Alerts.Enabled = true
	cfg.Alerts.CheckIntervalSeconds = 300
	cfg.Alerts.DefaultCooldownMinutes = 30
	cfg.Alerts.HistoryLimit = 100
	cfg.Alerts.Timeframe = "today"

	// Notification defaults
	cfg.Notifications.SMTP.Port = 587
	cfg.Notifications.SMTP.From = "alerts@opsboard.local"
	cfg.Notifications.NATS.Subject = "opsboard.alerts.fired"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 28

	// Audit defaults
	cfg.Audit.Enabled = true
	cfg.Audit.Path = "/var/log/opsboard/audit.log"

	return cfg
}
