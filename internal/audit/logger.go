// Package audit writes an append-only trail of configuration changes and
// alert activity to a rotated JSON log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opsboard/opsboard-analytics/internal/logging"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log buffers an audit event
	Log(ctx context.Context, event *Event) error

	LogThresholdChanged(ctx context.Context, eventType EventType, id, name string) error
	LogAlertFired(ctx context.Context, alertID, notificationID, severity, message string) error
	LogAlertAcknowledged(ctx context.Context, notificationID string) error
	LogHistoryCleared(ctx context.Context) error
	LogCacheCleared(ctx context.Context, category string, removed int) error
	LogForecastGenerated(ctx context.Context, model string, forecastDays int, duration time.Duration) error

	// Sync flushes buffered log entries
	Sync() error

	// Close flushes and stops the background flusher
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// FlushInterval bounds how long an event stays buffered
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100,
		MaxBackups:    10,
		MaxAge:        30,
		Compress:      true,
		FlushInterval: time.Second,
	}
}

const bufferSize = 100

type auditLogger struct {
	out       *zap.Logger
	mu        sync.Mutex
	buffer    []*Event
	ticker    *time.Ticker
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewLogger creates a buffered audit logger writing to a rotated file.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}

	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel, // audit entries are always written
	)

	l := &auditLogger{
		out:    zap.New(core),
		buffer: make([]*Event, 0, bufferSize),
		ticker: time.NewTicker(config.FlushInterval),
		stopCh: make(chan struct{}),
	}
	go l.autoFlush()
	return l, nil
}

// Log buffers event and flushes when the buffer is full. The correlation ID
// from ctx is attached when the event has none.
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferSize {
		l.flushLocked()
	}
	return nil
}

func (l *auditLogger) flushLocked() {
	for _, event := range l.buffer {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		l.out.Info(string(payload),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}
	l.buffer = l.buffer[:0]
}

func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.ticker.C:
			l.mu.Lock()
			l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogThresholdChanged(ctx context.Context, eventType EventType, id, name string) error {
	return l.Log(ctx, NewEvent(eventType).
		WithResource(id, "threshold").
		WithMetadata("name", name).
		WithDescription(fmt.Sprintf("Threshold %q %s", name, eventType)))
}

func (l *auditLogger) LogAlertFired(ctx context.Context, alertID, notificationID, severity, message string) error {
	return l.Log(ctx, NewEvent(EventAlertFired).
		WithResource(alertID, "threshold").
		WithMetadata("notification_id", notificationID).
		WithMetadata("severity", severity).
		WithDescription(message))
}

func (l *auditLogger) LogAlertAcknowledged(ctx context.Context, notificationID string) error {
	return l.Log(ctx, NewEvent(EventAlertAcknowledged).
		WithResource(notificationID, "notification").
		WithDescription(fmt.Sprintf("Alert %s acknowledged", notificationID)))
}

func (l *auditLogger) LogHistoryCleared(ctx context.Context) error {
	return l.Log(ctx, NewEvent(EventHistoryCleared).WithDescription("Alert history cleared"))
}

// LogCacheCleared records a full clear when category is empty, otherwise an
// invalidation of one category.
func (l *auditLogger) LogCacheCleared(ctx context.Context, category string, removed int) error {
	if category == "" {
		return l.Log(ctx, NewEvent(EventCacheCleared).WithDescription("Result cache cleared"))
	}
	return l.Log(ctx, NewEvent(EventCacheInvalidated).
		WithResource(category, "cache_category").
		WithMetadata("removed", removed).
		WithDescription(fmt.Sprintf("Invalidated %d %s entries", removed, category)))
}

func (l *auditLogger) LogForecastGenerated(ctx context.Context, model string, forecastDays int, duration time.Duration) error {
	return l.Log(ctx, NewEvent(EventForecastGenerated).
		WithMetadata("model", model).
		WithMetadata("forecast_days", forecastDays).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("%d-day %s forecast generated", forecastDays, model)))
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
	return l.out.Sync()
}

// Close stops the flusher and writes what is buffered.
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.ticker.Stop()
	})
	return l.Sync()
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// Nop discards every event. It is used when auditing is disabled.
type Nop struct{}

func (Nop) Log(context.Context, *Event) error                                   { return nil }
func (Nop) LogThresholdChanged(context.Context, EventType, string, string) error { return nil }
func (Nop) LogAlertFired(context.Context, string, string, string, string) error  { return nil }
func (Nop) LogAlertAcknowledged(context.Context, string) error                   { return nil }
func (Nop) LogHistoryCleared(context.Context) error                              { return nil }
func (Nop) LogCacheCleared(context.Context, string, int) error                   { return nil }
func (Nop) LogForecastGenerated(context.Context, string, int, time.Duration) error {
	return nil
}
func (Nop) Sync() error  { return nil }
func (Nop) Close() error { return nil }
