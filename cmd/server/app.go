package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/alerting"
	"github.com/opsboard/opsboard-analytics/internal/analytics"
	"github.com/opsboard/opsboard-analytics/internal/analytics/forecasting"
	"github.com/opsboard/opsboard-analytics/internal/audit"
	"github.com/opsboard/opsboard-analytics/internal/cache"
	"github.com/opsboard/opsboard-analytics/internal/config"
	"github.com/opsboard/opsboard-analytics/internal/db"
	"github.com/opsboard/opsboard-analytics/internal/logging"
	"github.com/opsboard/opsboard-analytics/internal/recordstore"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	audit  audit.Logger

	store     db.Store
	records   recordstore.Store
	cache     *cache.ResultCache
	analytics *analytics.Service
	alerts    *alerting.Engine

	closers []func()
}

// loadConfig reads and validates the configuration named by --config.
func loadConfig() (config.ConfigManager, *config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath
	}
	mgr, err := config.NewConfigManager(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get(context.Background())
	if debug {
		cfg.Logging.Level = "debug"
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return mgr, cfg, nil
}

// newApp wires the persistence, cache, analytics and alerting layers. The
// caller must call close.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	logger, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a = &app{cfg: cfg, logger: logger, audit: audit.Nop{}}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	if cfg.Audit.Enabled {
		auditCfg := audit.DefaultConfig()
		auditCfg.AuditLogPath = cfg.Audit.Path
		al, err := audit.NewLogger(auditCfg)
		if err != nil {
			return nil, fmt.Errorf("create audit logger: %w", err)
		}
		a.audit = al
		a.closers = append(a.closers, func() { _ = al.Close() })
	}

	a.store, err = db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.store.Close() })

	if err := a.openRecordStore(ctx); err != nil {
		return nil, err
	}

	a.cache = cache.New(ctx, a.store, logger, cache.Options{
		MaxSize:       cfg.Cache.MaxSize,
		SweepInterval: seconds(cfg.Cache.SweepIntervalSeconds),
		Persist:       cfg.Cache.Persist,
		BackupMaxAge:  time.Duration(cfg.Cache.BackupMaxAgeHours) * time.Hour,
		DefaultTTLs: map[cache.Category]time.Duration{
			cache.CategoryMetrics:    seconds(cfg.Cache.MetricsTTLSeconds),
			cache.CategoryComparison: seconds(cfg.Cache.MetricsTTLSeconds),
			cache.CategoryChart:      seconds(cfg.Cache.MetricsTTLSeconds),
			cache.CategoryForecast:   seconds(cfg.Cache.ForecastTTLSeconds),
			cache.CategoryExport:     seconds(cfg.Cache.ExportTTLSeconds),
		},
	})
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.cache.Close(ctx)
	})

	forecaster := forecasting.NewEngine(a.records, logger, forecasting.Config{
		LookbackDays:    cfg.Forecast.LookbackDays,
		MaxForecastDays: cfg.Forecast.MaxForecastDays,
		DefaultModel:    forecasting.Model(cfg.Forecast.DefaultModel),
	})
	a.analytics = analytics.NewService(a.records, a.cache, forecaster, logger, nil)

	var email alerting.EmailTransport
	if smtp := cfg.Notifications.SMTP; smtp.Host != "" {
		email = alerting.NewSMTPTransport(alerting.SMTPConfig{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
		})
	}
	a.alerts = alerting.NewEngine(a.store, email, logger, alerting.Config{
		DefaultCooldown: time.Duration(cfg.Alerts.DefaultCooldownMinutes) * time.Minute,
		HistoryLimit:    cfg.Alerts.HistoryLimit,
		EmailFrom:       cfg.Notifications.SMTP.From,
	})
	if err := a.alerts.LoadHistory(ctx); err != nil {
		logger.Warn("failed to load alert history", zap.Error(err))
	}
	return a, nil
}

func (a *app) openRecordStore(ctx context.Context) error {
	rs := a.cfg.RecordStore
	switch rs.Type {
	case "memory":
		a.records = recordstore.NewMemoryStore()
	case "http":
		a.records = recordstore.NewHTTPStore(rs.BaseURL, rs.APIKey, seconds(rs.TimeoutSeconds))
	case "postgres":
		pg, err := recordstore.NewPostgresStore(ctx, rs.PostgresURL, int32(rs.MaxConns))
		if err != nil {
			return fmt.Errorf("connect record store: %w", err)
		}
		a.records = pg
		a.closers = append(a.closers, pg.Close)
	default:
		return fmt.Errorf("unknown record store type %q", rs.Type)
	}
	a.logger.Info("record store ready", zap.String("type", rs.Type))
	return nil
}

// seedThresholds loads the configured seed file into an empty threshold table.
func (a *app) seedThresholds(ctx context.Context) {
	path := a.cfg.Alerts.SeedFile
	if path == "" {
		return
	}
	ths, err := alerting.LoadSeedFile(path)
	if err != nil {
		a.logger.Warn("failed to read threshold seed file", zap.String("path", path), zap.Error(err))
		return
	}
	n, err := a.alerts.Seed(ctx, ths, true)
	if err != nil {
		a.logger.Warn("failed to seed thresholds", zap.Error(err))
		return
	}
	if n > 0 {
		_ = a.audit.Log(ctx, audit.NewEvent(audit.EventThresholdsSeeded).
			WithMetadata("path", path).
			WithMetadata("count", n).
			WithDescription(fmt.Sprintf("Seeded %d thresholds", n)))
		a.logger.Info("seeded alert thresholds", zap.Int("count", n), zap.String("path", path))
	}
}

// close releases components in reverse order of creation.
func (a *app) close(_ context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
