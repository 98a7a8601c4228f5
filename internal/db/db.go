package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("db: not found")

// Store is the main persistence interface for the analytics service.
type Store interface {
	KVStore
	ThresholdStore
	NotificationStore
	SMSLogStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Key-value store ──────────────────────────────────────────────────────────

// KVStore is a durable string blob store. The result cache persists its
// entries and its last-known-good backup through it.
type KVStore interface {
	// GetItem returns the stored value and whether the key exists.
	GetItem(ctx context.Context, key string) (string, bool, error)

	// SetItem writes (or overwrites) a value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes a key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// ─── Alert thresholds ─────────────────────────────────────────────────────────

// ThresholdRecord is the DB representation of an alert threshold.
// Recipients and NotificationMethods are JSON arrays stored as text.
type ThresholdRecord struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Metric              string    `json:"metric"`
	Operator            string    `json:"operator"`
	Threshold           float64   `json:"threshold"`
	Severity            string    `json:"severity"`
	IsActive            bool      `json:"is_active"`
	CooldownSeconds     int64     `json:"cooldown_seconds"`
	Recipients          string    `json:"recipients"`
	NotificationMethods string    `json:"notification_methods"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ThresholdStore persists alert threshold configuration.
type ThresholdStore interface {
	// SaveThreshold inserts or replaces a threshold by ID.
	SaveThreshold(ctx context.Context, rec *ThresholdRecord) error

	// GetThreshold returns ErrNotFound when the ID is unknown.
	GetThreshold(ctx context.Context, id string) (*ThresholdRecord, error)

	// ListThresholds returns all thresholds ordered by creation time.
	ListThresholds(ctx context.Context) ([]*ThresholdRecord, error)

	// DeleteThreshold returns ErrNotFound when the ID is unknown.
	DeleteThreshold(ctx context.Context, id string) error
}

// ─── Alert history ────────────────────────────────────────────────────────────

// NotificationRecord is a persisted alert firing.
type NotificationRecord struct {
	ID           string    `json:"id"`
	AlertID      string    `json:"alert_id"`
	Message      string    `json:"message"`
	Severity     string    `json:"severity"`
	MetricValue  float64   `json:"metric_value"`
	Channels     string    `json:"channels"` // JSON array
	Acknowledged bool      `json:"acknowledged"`
	TriggeredAt  time.Time `json:"triggered_at"`
}

// NotificationStore persists the bounded alert history.
type NotificationStore interface {
	// AppendNotification inserts a record and trims the table to the newest keep rows.
	AppendNotification(ctx context.Context, rec *NotificationRecord, keep int) error

	// ListNotifications returns up to limit records, newest first.
	ListNotifications(ctx context.Context, limit int) ([]*NotificationRecord, error)

	// AcknowledgeNotification sets the acknowledged flag. Returns ErrNotFound
	// when no record has the ID.
	AcknowledgeNotification(ctx context.Context, id string) error

	// ClearNotifications removes the whole history.
	ClearNotifications(ctx context.Context) error
}

// ─── SMS log ──────────────────────────────────────────────────────────────────

// SMSRecord is an SMS alert logged instead of sent.
type SMSRecord struct {
	ID         string    `json:"id"`
	AlertID    string    `json:"alert_id"`
	Recipients string    `json:"recipients"` // JSON array
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	LoggedAt   time.Time `json:"logged_at"`
}

// SMSLogStore records SMS notifications.
type SMSLogStore interface {
	LogSMS(ctx context.Context, rec *SMSRecord) error
	ListSMS(ctx context.Context, limit int) ([]*SMSRecord, error)
}
