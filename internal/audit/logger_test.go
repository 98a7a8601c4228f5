package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := DefaultConfig()
	cfg.AuditLogPath = path
	cfg.Compress = false
	cfg.FlushInterval = time.Hour
	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	return string(data)
}

func TestNewLoggerRequiresPath(t *testing.T) {
	if _, err := NewLogger(&Config{}); err == nil {
		t.Fatal("expected error for empty audit log path")
	}
}

func TestEventBuilder(t *testing.T) {
	e := NewEvent(EventThresholdCreated).
		WithCorrelationID("corr-1").
		WithSourceIP("10.0.0.5").
		WithResource("t1", "threshold").
		WithDescription("created").
		WithDuration(1500 * time.Millisecond).
		WithMetadata("name", "Low sales")

	if e.Result != ResultSuccess {
		t.Errorf("Result = %s, want %s", e.Result, ResultSuccess)
	}
	if e.CorrelationID != "corr-1" || e.SourceIP != "10.0.0.5" {
		t.Errorf("unexpected identifiers: %+v", e)
	}
	if e.Resource != "t1" || e.ResourceType != "threshold" {
		t.Errorf("unexpected resource: %s/%s", e.ResourceType, e.Resource)
	}
	if e.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", e.DurationMs)
	}
	if e.Metadata["name"] != "Low sales" {
		t.Errorf("Metadata[name] = %v", e.Metadata["name"])
	}
}

func TestWithError(t *testing.T) {
	e := NewEvent(EventAlertFired).WithError(nil)
	if e.Result != ResultSuccess || e.Error != "" {
		t.Errorf("nil error changed event: %+v", e)
	}

	e.WithError(errors.New("smtp: connection refused"))
	if e.Result != ResultFailure {
		t.Errorf("Result = %s, want %s", e.Result, ResultFailure)
	}
	if e.Error != "smtp: connection refused" {
		t.Errorf("Error = %q", e.Error)
	}
}

func TestCorrelationIDContext(t *testing.T) {
	if got := GetCorrelationID(context.Background()); got != "" {
		t.Errorf("GetCorrelationID(empty) = %q", got)
	}
	ctx := WithCorrelationID(context.Background(), "req-42")
	if got := GetCorrelationID(ctx); got != "req-42" {
		t.Errorf("GetCorrelationID = %q, want req-42", got)
	}
}

func TestEventsAreBufferedUntilSync(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := WithCorrelationID(context.Background(), "req-7")

	if err := l.LogThresholdChanged(ctx, EventThresholdCreated, "t1", "Low sales"); err != nil {
		t.Fatalf("LogThresholdChanged() error = %v", err)
	}
	if data, err := os.ReadFile(path); err == nil && strings.Contains(string(data), "threshold.created") {
		t.Fatal("event written before flush")
	}

	if err := l.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	out := readLog(t, path)
	for _, want := range []string{`"event_type":"threshold.created"`, `"correlation_id":"req-7"`, `Low sales`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %s:\n%s", want, out)
		}
	}
}

func TestBufferFlushesWhenFull(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()
	for i := 0; i < bufferSize; i++ {
		if err := l.LogAlertAcknowledged(ctx, "n1"); err != nil {
			t.Fatalf("LogAlertAcknowledged() error = %v", err)
		}
	}
	out := readLog(t, path)
	if got := strings.Count(out, "alert.acknowledged"); got < bufferSize {
		t.Errorf("flushed %d events, want %d", got, bufferSize)
	}
}

func TestDomainEvents(t *testing.T) {
	l, path := newTestLogger(t)
	ctx := context.Background()

	_ = l.LogAlertFired(ctx, "t1", "n1", "critical", "Daily sales below target")
	_ = l.LogHistoryCleared(ctx)
	_ = l.LogCacheCleared(ctx, "", 0)
	_ = l.LogCacheCleared(ctx, "forecast", 3)
	_ = l.LogForecastGenerated(ctx, "seasonal", 14, 250*time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out := readLog(t, path)
	for _, want := range []string{
		"alert.fired",
		"alert.history_cleared",
		"cache.cleared",
		"cache.invalidated",
		"Invalidated 3 forecast entries",
		"forecast.generated",
		"14-day seasonal forecast generated",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %q", want)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l, _ := newTestLogger(t)
	if err := l.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestNopLogger(t *testing.T) {
	var l Logger = Nop{}
	if err := l.LogAlertFired(context.Background(), "t1", "n1", "info", "x"); err != nil {
		t.Errorf("Nop returned error: %v", err)
	}
}
