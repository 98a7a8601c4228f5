package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/alerting"
	"github.com/opsboard/opsboard-analytics/internal/analytics"
	"github.com/opsboard/opsboard-analytics/internal/audit"
	"github.com/opsboard/opsboard-analytics/internal/bus"
	"github.com/opsboard/opsboard-analytics/internal/config"
	"github.com/opsboard/opsboard-analytics/internal/server"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the alert scheduler",
		Long: `Run the analytics API in the foreground. The process stops gracefully on
SIGINT or SIGTERM, flushing the result cache and the audit trail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(mgr, cfg)
		},
	}
}

func runServe(mgr config.ConfigManager, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	logger := a.logger

	a.cache.Start(ctx)
	a.seedThresholds(ctx)

	a.alerts.OnFire(func(n alerting.Notification) {
		_ = a.audit.LogAlertFired(context.Background(), n.AlertID, n.ID, string(n.Severity), n.Message)
	})
	if url := cfg.Notifications.NATS.URL; url != "" {
		pub, err := bus.NewPublisher(url, cfg.Notifications.NATS.Subject, logger)
		if err != nil {
			logger.Warn("alert events will not be published", zap.Error(err))
		} else {
			a.alerts.OnFire(pub.AlertListener())
			defer pub.Close()
		}
	}

	srv, err := server.New(server.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		RateLimitRPS:     cfg.Server.RateLimitRPS,
		RateLimitBurst:   cfg.Server.RateLimitBurst,
		ShutdownTimeout:  seconds(cfg.Server.ShutdownTimeoutSeconds),
		DefaultTimeframe: cfg.Alerts.Timeframe,
	}, server.Deps{
		Analytics: a.analytics,
		Alerts:    a.alerts,
		Audit:     a.audit,
		Logger:    logger,
		Ready:     a.store.Ping,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	var scheduler *analytics.Scheduler
	if cfg.Alerts.Enabled {
		scheduler = analytics.NewScheduler(a.analytics, a.alerts, analytics.Request{
			Timeframe: cfg.Alerts.Timeframe,
			Stations:  cfg.Alerts.Stations,
		}, seconds(cfg.Alerts.CheckIntervalSeconds), logger)
		scheduler.Start(ctx)
	}

	if err := srv.Start(); err != nil {
		if scheduler != nil {
			scheduler.Stop()
		}
		return fmt.Errorf("start server: %w", err)
	}
	_ = a.audit.Log(ctx, audit.NewEvent(audit.EventServerStarted).
		WithMetadata("version", version).
		WithMetadata("port", cfg.Server.Port).
		WithDescription("Analytics server started"))
	logger.Info("opsboard-analytics started",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("alerts", cfg.Alerts.Enabled),
	)

	go watchConfig(ctx, mgr, a)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), seconds(cfg.Server.ShutdownTimeoutSeconds)+5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	_ = a.audit.Log(shutdownCtx, audit.NewEvent(audit.EventServerShutdown).
		WithMetadata("signal", sig.String()).
		WithDescription("Analytics server stopped"))
	return nil
}

// watchConfig records configuration file edits in the audit trail. Changes
// take effect on restart.
func watchConfig(ctx context.Context, mgr config.ConfigManager, a *app) {
	changes := mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-changes:
			errs := next.Validate()
			evt := audit.NewEvent(audit.EventConfigReload).WithDescription("Configuration file changed")
			if len(errs) > 0 {
				evt.WithError(errs[0]).WithMetadata("errors", len(errs))
				a.logger.Warn("reloaded configuration is invalid", zap.Errors("errors", errs))
			} else {
				a.logger.Info("configuration changed; restart to apply")
			}
			_ = a.audit.Log(ctx, evt)
		}
	}
}
