package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS kv_items (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_thresholds (
    id                    TEXT PRIMARY KEY,
    name                  TEXT NOT NULL DEFAULT '',
    metric                TEXT NOT NULL,
    operator              TEXT NOT NULL,
    threshold             REAL NOT NULL DEFAULT 0.0,
    severity              TEXT NOT NULL DEFAULT 'medium',
    is_active             BOOLEAN NOT NULL DEFAULT 1,
    cooldown_seconds      INTEGER NOT NULL DEFAULT 1800,
    recipients            TEXT NOT NULL DEFAULT '[]',
    notification_methods  TEXT NOT NULL DEFAULT '[]',
    created_at            DATETIME NOT NULL,
    updated_at            DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_thresholds_created_at ON alert_thresholds(created_at ASC);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS alert_notifications (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    alert_id      TEXT NOT NULL,
    message       TEXT NOT NULL DEFAULT '',
    severity      TEXT NOT NULL DEFAULT 'medium',
    metric_value  REAL NOT NULL DEFAULT 0.0,
    channels      TEXT NOT NULL DEFAULT '[]',
    acknowledged  BOOLEAN NOT NULL DEFAULT 0,
    triggered_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_alert_id ON alert_notifications(alert_id);

CREATE TABLE IF NOT EXISTS sms_messages (
    id          TEXT PRIMARY KEY,
    alert_id    TEXT NOT NULL DEFAULT '',
    recipients  TEXT NOT NULL DEFAULT '[]',
    message     TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'logged',
    logged_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sms_logged_at ON sms_messages(logged_at DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// Each pooled connection would get its own private in-memory database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Key-value items ──────────────────────────────────────────────────────────

func (s *sqliteStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_items WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get item %q: %w", key, err)
	}
	return value, true, nil
}

func (s *sqliteStore) SetItem(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO kv_items(key, value, updated_at) VALUES(?,?,?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
    `, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set item %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) RemoveItem(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_items WHERE key=?`, key); err != nil {
		return fmt.Errorf("remove item %q: %w", key, err)
	}
	return nil
}

// ─── Thresholds ───────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveThreshold(ctx context.Context, rec *ThresholdRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO alert_thresholds(id, name, metric, operator, threshold, severity, is_active,
            cooldown_seconds, recipients, notification_methods, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            name                 = excluded.name,
            metric               = excluded.metric,
            operator             = excluded.operator,
            threshold            = excluded.threshold,
            severity             = excluded.severity,
            is_active            = excluded.is_active,
            cooldown_seconds     = excluded.cooldown_seconds,
            recipients           = excluded.recipients,
            notification_methods = excluded.notification_methods,
            updated_at           = excluded.updated_at
    `,
		rec.ID, rec.Name, rec.Metric, rec.Operator, rec.Threshold, rec.Severity, rec.IsActive,
		rec.CooldownSeconds, rec.Recipients, rec.NotificationMethods,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}
	return nil
}

const thresholdColumns = `id, name, metric, operator, threshold, severity, is_active,
    cooldown_seconds, recipients, notification_methods, created_at, updated_at`

func (s *sqliteStore) GetThreshold(ctx context.Context, id string) (*ThresholdRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+thresholdColumns+` FROM alert_thresholds WHERE id=?`, id)
	rec, err := scanThreshold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get threshold: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) ListThresholds(ctx context.Context) ([]*ThresholdRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+thresholdColumns+` FROM alert_thresholds ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	defer rows.Close()

	var out []*ThresholdRecord
	for rows.Next() {
		rec, err := scanThreshold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteThreshold(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_thresholds WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete threshold: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Notifications ────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendNotification(ctx context.Context, rec *NotificationRecord, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO alert_notifications(id, alert_id, message, severity, metric_value, channels, acknowledged, triggered_at)
        VALUES(?,?,?,?,?,?,?,?)
    `, rec.ID, rec.AlertID, rec.Message, rec.Severity, rec.MetricValue, rec.Channels, rec.Acknowledged, rec.TriggeredAt.UTC())
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if keep > 0 {
		_, err = tx.ExecContext(ctx, `
            DELETE FROM alert_notifications WHERE seq NOT IN (
                SELECT seq FROM alert_notifications ORDER BY seq DESC LIMIT ?
            )
        `, keep)
		if err != nil {
			return fmt.Errorf("trim notifications: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ListNotifications(ctx context.Context, limit int) ([]*NotificationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, alert_id, message, severity, metric_value, channels, acknowledged, triggered_at
        FROM alert_notifications ORDER BY seq DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Message, &rec.Severity, &rec.MetricValue,
			&rec.Channels, &rec.Acknowledged, &ts); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		rec.TriggeredAt, _ = parseTime(ts)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AcknowledgeNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alert_notifications SET acknowledged=1 WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("acknowledge notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ClearNotifications(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alert_notifications`); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	return nil
}

// ─── SMS log ──────────────────────────────────────────────────────────────────

func (s *sqliteStore) LogSMS(ctx context.Context, rec *SMSRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sms_messages(id, alert_id, recipients, message, status, logged_at)
        VALUES(?,?,?,?,?,?)
    `, rec.ID, rec.AlertID, rec.Recipients, rec.Message, rec.Status, rec.LoggedAt.UTC())
	if err != nil {
		return fmt.Errorf("log sms: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListSMS(ctx context.Context, limit int) ([]*SMSRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, alert_id, recipients, message, status, logged_at
        FROM sms_messages ORDER BY logged_at DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("list sms: %w", err)
	}
	defer rows.Close()

	var out []*SMSRecord
	for rows.Next() {
		var rec SMSRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.Recipients, &rec.Message, &rec.Status, &ts); err != nil {
			return nil, fmt.Errorf("scan sms: %w", err)
		}
		rec.LoggedAt, _ = parseTime(ts)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreshold(row rowScanner) (*ThresholdRecord, error) {
	rec := &ThresholdRecord{}
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.Name, &rec.Metric, &rec.Operator, &rec.Threshold, &rec.Severity,
		&rec.IsActive, &rec.CooldownSeconds, &rec.Recipients, &rec.NotificationMethods,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return rec, nil
}

// parseTime accepts the layouts the sqlite driver produces for DATETIME columns.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
