package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/db"
	"github.com/opsboard/opsboard-analytics/internal/metrics"
)

const (
	// DefaultCooldown applies to thresholds without their own cooldown.
	DefaultCooldown = 30 * time.Minute

	// DefaultHistoryLimit caps the alert history.
	DefaultHistoryLimit = 100
)

// Store persists thresholds, history and the SMS log.
type Store interface {
	db.ThresholdStore
	db.NotificationStore
	db.SMSLogStore
}

// Config tunes the engine.
type Config struct {
	DefaultCooldown time.Duration
	HistoryLimit    int
	EmailFrom       string

	// Now is the clock used for cooldowns and timestamps. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCooldown: DefaultCooldown,
		HistoryLimit:    DefaultHistoryLimit,
		EmailFrom:       "alerts@opsboard.local",
	}
}

// Listener is told about every firing after it has been recorded.
type Listener func(Notification)

// Firing is one threshold that fired during Evaluate. Err holds the joined
// dispatch errors, if any.
type Firing struct {
	Threshold    Threshold
	Notification Notification
	Err          error
}

// Engine evaluates thresholds and manages cooldowns and history.
type Engine struct {
	mu sync.RWMutex

	// lastFired holds the last firing time per threshold ID.
	lastFired map[string]time.Time

	// history is most recent first.
	history []Notification

	listeners []Listener

	store  Store
	email  EmailTransport
	logger *zap.Logger
	cfg    Config
}

// NewEngine creates an alert engine. email may be nil, in which case the
// email channel fails with ErrTransport.
func NewEngine(store Store, email EmailTransport, logger *zap.Logger, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = def.DefaultCooldown
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.EmailFrom == "" {
		cfg.EmailFrom = def.EmailFrom
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		lastFired: make(map[string]time.Time),
		store:     store,
		email:     email,
		logger:    logger.With(zap.String("component", "alert_engine")),
		cfg:       cfg,
	}
}

// OnFire registers a listener for new firings.
func (e *Engine) OnFire(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// LoadHistory replaces the in-memory history with the persisted one.
func (e *Engine) LoadHistory(ctx context.Context) error {
	recs, err := e.store.ListNotifications(ctx, e.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("load alert history: %w", err)
	}
	history := make([]Notification, 0, len(recs))
	for _, r := range recs {
		history = append(history, notificationFromRecord(r, e.logger))
	}
	e.mu.Lock()
	e.history = history
	e.mu.Unlock()
	e.logger.Info("alert history loaded", zap.Int("entries", len(history)))
	return nil
}

// ─── Evaluation ───────────────────────────────────────────────────────────────

// inCooldown reports whether a threshold last fired less than cooldown ago.
func inCooldown(last, now time.Time, cooldown time.Duration) bool {
	return !last.IsZero() && now.Sub(last) < cooldown
}

func (e *Engine) cooldownFor(t Threshold) time.Duration {
	if t.Cooldown > 0 {
		return t.Cooldown.Std()
	}
	return e.cfg.DefaultCooldown
}

// CheckThresholds returns the thresholds breached by metrics right now.
// Inactive and cooling-down thresholds are skipped, as are thresholds whose
// metric path does not resolve to a number. Each breach is recorded in the
// history and starts the threshold's cooldown.
func (e *Engine) CheckThresholds(ctx context.Context, metricValues map[string]any, configs []Threshold) []Threshold {
	fired := e.check(ctx, metricValues, configs)
	out := make([]Threshold, len(fired))
	for i, f := range fired {
		out[i] = f.Threshold
	}
	return out
}

func (e *Engine) check(ctx context.Context, metricValues map[string]any, configs []Threshold) []Firing {
	var fired []Firing
	for _, t := range configs {
		if !t.IsActive {
			continue
		}

		now := e.cfg.Now()
		e.mu.RLock()
		cooling := inCooldown(e.lastFired[t.ID], now, e.cooldownFor(t))
		e.mu.RUnlock()
		if cooling {
			continue
		}

		res := Lookup(metricValues, t.Metric)
		switch res.Kind {
		case NotFound:
			e.logger.Debug("metric not present, skipping threshold",
				zap.String("threshold", t.ID), zap.String("metric", t.Metric))
			continue
		case WrongType:
			e.logger.Warn("metric is not numeric, skipping threshold",
				zap.String("threshold", t.ID), zap.String("metric", t.Metric))
			continue
		}

		if !t.Operator.Compare(res.Value, t.Threshold) {
			continue
		}

		n, ok := e.fire(ctx, t, res.Value, now)
		if !ok {
			continue
		}
		fired = append(fired, Firing{Threshold: t, Notification: n})
	}
	return fired
}

// fire starts the cooldown and records the notification. It returns false
// when a concurrent evaluation fired the same threshold first.
func (e *Engine) fire(ctx context.Context, t Threshold, value float64, now time.Time) (Notification, bool) {
	n := Notification{
		ID:          uuid.NewString(),
		AlertID:     t.ID,
		Message:     FormatMessage(t, value, now),
		Severity:    t.Severity,
		MetricValue: value,
		Channels:    append([]Channel(nil), t.NotificationMethods...),
		TriggeredAt: now,
	}

	e.mu.Lock()
	if inCooldown(e.lastFired[t.ID], now, e.cooldownFor(t)) {
		e.mu.Unlock()
		return Notification{}, false
	}
	e.lastFired[t.ID] = now
	e.history = append([]Notification{n}, e.history...)
	if len(e.history) > e.cfg.HistoryLimit {
		e.history = e.history[:e.cfg.HistoryLimit]
	}
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()

	metrics.AlertsFired.WithLabelValues(string(t.Severity)).Inc()
	e.logger.Info("alert fired",
		zap.String("threshold", t.ID),
		zap.String("metric", t.Metric),
		zap.Float64("value", value),
		zap.Float64("threshold_value", t.Threshold),
		zap.String("severity", string(t.Severity)),
	)

	if err := e.store.AppendNotification(ctx, notificationToRecord(n), e.cfg.HistoryLimit); err != nil {
		e.logger.Warn("failed to persist alert notification", zap.String("id", n.ID), zap.Error(err))
	}
	for _, l := range listeners {
		l(n)
	}
	return n, true
}

// Evaluate checks every stored threshold against metrics and dispatches
// each firing. A failed dispatch is reported on its Firing and never stops
// the others.
func (e *Engine) Evaluate(ctx context.Context, metricValues map[string]any) ([]Firing, error) {
	thresholds, err := e.ListThresholds(ctx)
	if err != nil {
		return nil, err
	}
	fired := e.check(ctx, metricValues, thresholds)
	for i := range fired {
		if err := e.Dispatch(ctx, fired[i].Threshold, fired[i].Notification.MetricValue); err != nil {
			fired[i].Err = err
			e.logger.Warn("alert dispatch failed",
				zap.String("threshold", fired[i].Threshold.ID), zap.Error(err))
		}
	}
	return fired, nil
}

// ─── Dispatch ─────────────────────────────────────────────────────────────────

// Dispatch sends one threshold's notification on each of its channels. The
// returned error joins the failures of individual channels.
func (e *Engine) Dispatch(ctx context.Context, t Threshold, value float64) error {
	var errs []error
	for _, c := range t.NotificationMethods {
		var err error
		switch c {
		case ChannelEmail:
			err = e.SendEmailAlert(ctx, t, value)
		case ChannelSMS:
			err = e.SendSMSAlert(ctx, t, value)
		case ChannelInApp:
		default:
			err = fmt.Errorf("%w: unsupported channel %q", ErrTransport, c)
		}
		if err != nil {
			metrics.AlertDispatchFailures.WithLabelValues(string(c)).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendEmailAlert emails the threshold's email recipients.
func (e *Engine) SendEmailAlert(ctx context.Context, t Threshold, value float64) error {
	if e.email == nil {
		return fmt.Errorf("%w: email transport not configured", ErrTransport)
	}
	to := t.EmailRecipients()
	if len(to) == 0 {
		return fmt.Errorf("%w: threshold %s has no email recipients", ErrTransport, t.ID)
	}
	m, err := buildEmail(e.cfg.EmailFrom, to, t, value, e.cfg.Now())
	if err != nil {
		return err
	}
	if err := e.email.SendEmail(ctx, m); err != nil {
		return fmt.Errorf("%w: email: %w", ErrTransport, err)
	}
	return nil
}

// SendSMSAlert records the SMS in the SMS log table. There is no live SMS
// gateway.
func (e *Engine) SendSMSAlert(ctx context.Context, t Threshold, value float64) error {
	to := t.SMSRecipients()
	if len(to) == 0 {
		return fmt.Errorf("%w: threshold %s has no SMS recipients", ErrTransport, t.ID)
	}
	now := e.cfg.Now()
	rec := &db.SMSRecord{
		ID:         uuid.NewString(),
		AlertID:    t.ID,
		Recipients: encodeStrings(to),
		Message:    FormatMessage(t, value, now),
		Status:     "logged",
		LoggedAt:   now,
	}
	if err := e.store.LogSMS(ctx, rec); err != nil {
		return fmt.Errorf("%w: sms: %w", ErrTransport, err)
	}
	return nil
}

// ─── History ──────────────────────────────────────────────────────────────────

// History returns a copy of the alert history, most recent first.
func (e *Engine) History() []Notification {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Notification, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory empties the history. Cooldowns are unaffected.
func (e *Engine) ClearHistory(ctx context.Context) error {
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
	if err := e.store.ClearNotifications(ctx); err != nil {
		return fmt.Errorf("clear alert history: %w", err)
	}
	return nil
}

// Acknowledge sets the acknowledged flag of one history entry. It does not
// touch cooldowns.
func (e *Engine) Acknowledge(ctx context.Context, id string) error {
	e.mu.Lock()
	found := false
	for i := range e.history {
		if e.history[i].ID == id {
			e.history[i].Acknowledged = true
			found = true
			break
		}
	}
	e.mu.Unlock()

	err := e.store.AcknowledgeNotification(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		if found {
			return nil
		}
		return ErrNotificationNotFound
	default:
		if found {
			e.logger.Warn("failed to persist acknowledgement", zap.String("id", id), zap.Error(err))
			return nil
		}
		return fmt.Errorf("acknowledge alert: %w", err)
	}
}

// ─── Thresholds ───────────────────────────────────────────────────────────────

// CreateThreshold validates and stores a new threshold. An empty severity
// defaults to warning.
func (e *Engine) CreateThreshold(ctx context.Context, t Threshold) (Threshold, error) {
	if t.Severity == "" {
		t.Severity = SeverityWarning
	}
	if err := t.Validate(); err != nil {
		return Threshold{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := e.cfg.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := e.store.SaveThreshold(ctx, thresholdToRecord(t)); err != nil {
		return Threshold{}, fmt.Errorf("save threshold: %w", err)
	}
	e.logger.Info("alert threshold created", zap.String("id", t.ID), zap.String("metric", t.Metric))
	return t, nil
}

// GetThreshold returns ErrThresholdNotFound for an unknown ID.
func (e *Engine) GetThreshold(ctx context.Context, id string) (Threshold, error) {
	rec, err := e.store.GetThreshold(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return Threshold{}, ErrThresholdNotFound
	}
	if err != nil {
		return Threshold{}, fmt.Errorf("get threshold: %w", err)
	}
	return thresholdFromRecord(rec, e.logger), nil
}

// ListThresholds returns every stored threshold in creation order.
func (e *Engine) ListThresholds(ctx context.Context) ([]Threshold, error) {
	recs, err := e.store.ListThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	out := make([]Threshold, 0, len(recs))
	for _, r := range recs {
		out = append(out, thresholdFromRecord(r, e.logger))
	}
	return out, nil
}

// UpdateThreshold replaces the editable fields of an existing threshold.
// The ID and creation time are preserved; the cooldown state is kept.
func (e *Engine) UpdateThreshold(ctx context.Context, id string, t Threshold) (Threshold, error) {
	existing, err := e.GetThreshold(ctx, id)
	if err != nil {
		return Threshold{}, err
	}
	if t.Severity == "" {
		t.Severity = existing.Severity
	}
	if err := t.Validate(); err != nil {
		return Threshold{}, err
	}
	t.ID = existing.ID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = e.cfg.Now().UTC()
	if err := e.store.SaveThreshold(ctx, thresholdToRecord(t)); err != nil {
		return Threshold{}, fmt.Errorf("save threshold: %w", err)
	}
	e.logger.Info("alert threshold updated", zap.String("id", t.ID))
	return t, nil
}

// DeleteThreshold removes a threshold and forgets its cooldown.
func (e *Engine) DeleteThreshold(ctx context.Context, id string) error {
	err := e.store.DeleteThreshold(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return ErrThresholdNotFound
	}
	if err != nil {
		return fmt.Errorf("delete threshold: %w", err)
	}
	e.mu.Lock()
	delete(e.lastFired, id)
	e.mu.Unlock()
	e.logger.Info("alert threshold deleted", zap.String("id", id))
	return nil
}

// ─── Record conversion ────────────────────────────────────────────────────────

func thresholdToRecord(t Threshold) *db.ThresholdRecord {
	methods := make([]string, len(t.NotificationMethods))
	for i, c := range t.NotificationMethods {
		methods[i] = string(c)
	}
	return &db.ThresholdRecord{
		ID:                  t.ID,
		Name:                t.Name,
		Metric:              t.Metric,
		Operator:            string(t.Operator),
		Threshold:           t.Threshold,
		Severity:            string(t.Severity),
		IsActive:            t.IsActive,
		CooldownSeconds:     int64(t.Cooldown.Std() / time.Second),
		Recipients:          encodeStrings(t.Recipients),
		NotificationMethods: encodeStrings(methods),
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

// thresholdFromRecord treats unreadable JSON columns as empty lists.
func thresholdFromRecord(r *db.ThresholdRecord, logger *zap.Logger) Threshold {
	t := Threshold{
		ID:        r.ID,
		Name:      r.Name,
		Metric:    r.Metric,
		Operator:  Operator(r.Operator),
		Threshold: r.Threshold,
		Severity:  Severity(r.Severity),
		IsActive:  r.IsActive,
		Cooldown:  Duration(time.Duration(r.CooldownSeconds) * time.Second),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	t.Recipients = decodeStrings(r.Recipients, "recipients", r.ID, logger)
	for _, m := range decodeStrings(r.NotificationMethods, "notification_methods", r.ID, logger) {
		t.NotificationMethods = append(t.NotificationMethods, Channel(m))
	}
	return t
}

func notificationToRecord(n Notification) *db.NotificationRecord {
	channels := make([]string, len(n.Channels))
	for i, c := range n.Channels {
		channels[i] = string(c)
	}
	return &db.NotificationRecord{
		ID:           n.ID,
		AlertID:      n.AlertID,
		Message:      n.Message,
		Severity:     string(n.Severity),
		MetricValue:  n.MetricValue,
		Channels:     encodeStrings(channels),
		Acknowledged: n.Acknowledged,
		TriggeredAt:  n.TriggeredAt,
	}
}

func notificationFromRecord(r *db.NotificationRecord, logger *zap.Logger) Notification {
	n := Notification{
		ID:           r.ID,
		AlertID:      r.AlertID,
		Message:      r.Message,
		Severity:     Severity(r.Severity),
		MetricValue:  r.MetricValue,
		Acknowledged: r.Acknowledged,
		TriggeredAt:  r.TriggeredAt,
	}
	for _, c := range decodeStrings(r.Channels, "channels", r.ID, logger) {
		n.Channels = append(n.Channels, Channel(c))
	}
	return n
}

func encodeStrings(s []string) string {
	if s == nil {
		s = []string{}
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func decodeStrings(raw, field, id string, logger *zap.Logger) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logger.Warn("unreadable list column treated as empty",
			zap.String("id", id), zap.String("field", field), zap.Error(err))
		return nil
	}
	return out
}
