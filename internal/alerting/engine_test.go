package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/db"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []Email
	failFor string
}

func (m *fakeMailer) SendEmail(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, to := range e.To {
		if to == m.failFor {
			return errors.New("relay refused recipient")
		}
	}
	m.sent = append(m.sent, e)
	return nil
}

func newTestStore(t *testing.T) db.Store {
	t.Helper()
	s, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(t *testing.T, mailer EmailTransport) (*Engine, *fakeClock, db.Store) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	return NewEngine(store, mailer, zap.NewNop(), cfg), clock, store
}

func salesAbove(id string, limit float64) Threshold {
	return Threshold{
		ID:                  id,
		Name:                "High sales",
		Metric:              "sales.total",
		Operator:            OpGreaterThan,
		Threshold:           limit,
		Severity:            SeverityWarning,
		IsActive:            true,
		NotificationMethods: []Channel{ChannelInApp},
	}
}

func salesMetrics(v float64) map[string]any {
	return map[string]any{"sales": map[string]any{"total": v}}
}

func TestCheckThresholdsCooldown(t *testing.T) {
	e, clock, _ := newTestEngine(t, nil)
	ctx := context.Background()
	configs := []Threshold{salesAbove("t1", 100)}

	fired := e.CheckThresholds(ctx, salesMetrics(150), configs)
	require.Len(t, fired, 1)
	assert.Len(t, e.History(), 1)

	clock.Advance(10 * time.Minute)
	assert.Empty(t, e.CheckThresholds(ctx, salesMetrics(150), configs))
	assert.Len(t, e.History(), 1, "no second entry inside the cooldown")

	clock.Advance(21 * time.Minute)
	assert.Len(t, e.CheckThresholds(ctx, salesMetrics(150), configs), 1)
	assert.Len(t, e.History(), 2)
}

func TestCheckThresholdsPerThresholdCooldown(t *testing.T) {
	e, clock, _ := newTestEngine(t, nil)
	ctx := context.Background()
	th := salesAbove("t1", 100)
	th.Cooldown = Duration(5 * time.Minute)

	require.Len(t, e.CheckThresholds(ctx, salesMetrics(150), []Threshold{th}), 1)
	clock.Advance(4 * time.Minute)
	assert.Empty(t, e.CheckThresholds(ctx, salesMetrics(150), []Threshold{th}))
	clock.Advance(time.Minute)
	assert.Len(t, e.CheckThresholds(ctx, salesMetrics(150), []Threshold{th}), 1)
}

func TestInCooldown(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.False(t, inCooldown(time.Time{}, t0, 30*time.Minute))
	assert.True(t, inCooldown(t0, t0.Add(10*time.Minute), 30*time.Minute))
	assert.False(t, inCooldown(t0, t0.Add(30*time.Minute), 30*time.Minute))
	assert.False(t, inCooldown(t0, t0.Add(31*time.Minute), 30*time.Minute))
}

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		op   Operator
		v    float64
		want bool
	}{
		{OpGreaterThan, 150, true},
		{OpLessThan, 150, false},
		{OpEquals, 150, false},
		{OpEquals, 100, true},
		{OpNotEquals, 150, true},
		{OpNotEquals, 100, false},
		{OpPercentageChange, 150, false},
		{OpPercentageChange, 100, false},
		{Operator("bogus"), 150, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%.0f", tt.op, tt.v), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Compare(tt.v, 100))
		})
	}
}

func TestPercentageChangeNeverFires(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	th := salesAbove("pct", 0)
	th.Operator = OpPercentageChange
	assert.Empty(t, e.CheckThresholds(context.Background(), salesMetrics(1e9), []Threshold{th}))
	assert.Empty(t, e.History())
}

func TestCheckThresholdsSkips(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	inactive := salesAbove("inactive", 100)
	inactive.IsActive = false
	missing := salesAbove("missing", 100)
	missing.Metric = "fuel.volume"
	wrongType := salesAbove("wrong", 100)
	wrongType.Metric = "sales"

	fired := e.CheckThresholds(ctx, salesMetrics(150), []Threshold{inactive, missing, wrongType})
	assert.Empty(t, fired)
	assert.Empty(t, e.History())
}

func TestLookup(t *testing.T) {
	m := map[string]any{
		"sales":    map[string]any{"total": 0.0, "label": "x", "by_day": []any{1.0}},
		"expenses": map[string]float64{"salaries": 42},
		"count":    7,
		"nothing":  nil,
	}
	tests := []struct {
		path string
		kind LookupKind
		v    float64
	}{
		{"sales.total", Found, 0},
		{"expenses.salaries", Found, 42},
		{"count", Found, 7},
		{"sales.label", WrongType, 0},
		{"sales.by_day", WrongType, 0},
		{"sales", WrongType, 0},
		{"count.value", WrongType, 0},
		{"sales.missing", NotFound, 0},
		{"fuel.volume", NotFound, 0},
		{"nothing", NotFound, 0},
		{"nothing.deeper", NotFound, 0},
		{"", NotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res := Lookup(m, tt.path)
			assert.Equal(t, tt.kind, res.Kind)
			if tt.kind == Found {
				assert.Equal(t, tt.v, res.Value)
			}
		})
	}
}

func TestHistoryCapMostRecentFirst(t *testing.T) {
	e, clock, store := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < DefaultHistoryLimit+5; i++ {
		clock.Advance(time.Second)
		e.CheckThresholds(ctx, salesMetrics(150), []Threshold{salesAbove(fmt.Sprintf("t%03d", i), 100)})
	}

	h := e.History()
	require.Len(t, h, DefaultHistoryLimit)
	assert.Equal(t, "t104", h[0].AlertID)
	assert.Equal(t, "t005", h[len(h)-1].AlertID)

	recs, err := store.ListNotifications(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, recs, DefaultHistoryLimit)
}

func TestAcknowledge(t *testing.T) {
	e, clock, _ := newTestEngine(t, nil)
	ctx := context.Background()
	configs := []Threshold{salesAbove("t1", 100)}

	e.CheckThresholds(ctx, salesMetrics(150), configs)
	id := e.History()[0].ID

	require.NoError(t, e.Acknowledge(ctx, id))
	assert.True(t, e.History()[0].Acknowledged)

	clock.Advance(time.Minute)
	assert.Empty(t, e.CheckThresholds(ctx, salesMetrics(150), configs), "acknowledging must not end the cooldown")

	assert.ErrorIs(t, e.Acknowledge(ctx, "unknown"), ErrNotificationNotFound)
}

func TestHistoryPersistsAcrossEngines(t *testing.T) {
	e, clock, store := newTestEngine(t, nil)
	ctx := context.Background()

	e.CheckThresholds(ctx, salesMetrics(150), []Threshold{salesAbove("a", 100)})
	clock.Advance(time.Minute)
	e.CheckThresholds(ctx, salesMetrics(150), []Threshold{salesAbove("b", 100)})
	require.NoError(t, e.Acknowledge(ctx, e.History()[1].ID))

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	reloaded := NewEngine(store, nil, zap.NewNop(), cfg)
	require.NoError(t, reloaded.LoadHistory(ctx))

	h := reloaded.History()
	require.Len(t, h, 2)
	assert.Equal(t, "b", h[0].AlertID)
	assert.Equal(t, "a", h[1].AlertID)
	assert.True(t, h[1].Acknowledged)
	assert.Equal(t, []Channel{ChannelInApp}, h[0].Channels)

	require.NoError(t, reloaded.ClearHistory(ctx))
	assert.Empty(t, reloaded.History())
	recs, err := store.ListNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOnFireListener(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	var got []Notification
	e.OnFire(func(n Notification) { got = append(got, n) })

	e.CheckThresholds(context.Background(), salesMetrics(150), []Threshold{salesAbove("t1", 100)})
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].AlertID)
	assert.Equal(t, 150.0, got[0].MetricValue)
}

func TestEvaluateIsolatesTransportFailures(t *testing.T) {
	mailer := &fakeMailer{failFor: "broken@example.com"}
	e, _, store := newTestEngine(t, mailer)
	ctx := context.Background()

	bad := salesAbove("", 100)
	bad.Name = "Broken mailbox"
	bad.Recipients = []string{"broken@example.com"}
	bad.NotificationMethods = []Channel{ChannelEmail}
	_, err := e.CreateThreshold(ctx, bad)
	require.NoError(t, err)

	good := salesAbove("", 100)
	good.Name = "Ops team"
	good.Recipients = []string{"ops@example.com", "+15550100"}
	good.NotificationMethods = []Channel{ChannelEmail, ChannelSMS}
	_, err = e.CreateThreshold(ctx, good)
	require.NoError(t, err)

	fired, err := e.Evaluate(ctx, salesMetrics(150))
	require.NoError(t, err)
	require.Len(t, fired, 2)
	assert.Len(t, e.History(), 2)

	byName := map[string]Firing{}
	for _, f := range fired {
		byName[f.Threshold.Name] = f
	}
	assert.ErrorIs(t, byName["Broken mailbox"].Err, ErrTransport)
	assert.NoError(t, byName["Ops team"].Err)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"ops@example.com"}, mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Subject, "Ops team")

	sms, err := store.ListSMS(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, `["+15550100"]`, sms[0].Recipients)
	assert.Equal(t, "logged", sms[0].Status)
}

func TestDispatchWithoutTransport(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	th := salesAbove("t1", 100)
	th.Recipients = []string{"ops@example.com"}
	th.NotificationMethods = []Channel{ChannelEmail, ChannelSMS, ChannelInApp}

	err := e.Dispatch(context.Background(), th, 150)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "email transport not configured")
	assert.Contains(t, err.Error(), "no SMS recipients")
}

func TestThresholdCRUD(t *testing.T) {
	e, clock, _ := newTestEngine(t, nil)
	ctx := context.Background()

	created, err := e.CreateThreshold(ctx, Threshold{
		Name:      "Low margin",
		Metric:    "profit.margin",
		Operator:  OpLessThan,
		Threshold: 10,
		IsActive:  true,
		Cooldown:  Duration(time.Hour),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, SeverityWarning, created.Severity)

	got, err := e.GetThreshold(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "profit.margin", got.Metric)
	assert.Equal(t, Duration(time.Hour), got.Cooldown)

	clock.Advance(time.Hour)
	upd := got
	upd.Threshold = 15
	upd.Severity = SeverityCritical
	updated, err := e.UpdateThreshold(ctx, created.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, 15.0, updated.Threshold)
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	list, err := e.ListThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, SeverityCritical, list[0].Severity)

	require.NoError(t, e.DeleteThreshold(ctx, created.ID))
	_, err = e.GetThreshold(ctx, created.ID)
	assert.ErrorIs(t, err, ErrThresholdNotFound)
	assert.ErrorIs(t, e.DeleteThreshold(ctx, created.ID), ErrThresholdNotFound)
	_, err = e.UpdateThreshold(ctx, created.ID, upd)
	assert.ErrorIs(t, err, ErrThresholdNotFound)
}

func TestCreateThresholdValidation(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_, err := e.CreateThreshold(context.Background(), Threshold{
		Name:                "broken",
		Metric:              "sales.total",
		Operator:            "between",
		NotificationMethods: []Channel{"pager"},
	})
	require.ErrorIs(t, err, ErrInvalidThreshold)
	assert.Contains(t, err.Error(), "between")
	assert.Contains(t, err.Error(), "pager")
}

func TestThresholdFromRecordToleratesBadJSON(t *testing.T) {
	th := thresholdFromRecord(&db.ThresholdRecord{
		ID:                  "x",
		Recipients:          "not json",
		NotificationMethods: `["email"]`,
	}, zap.NewNop())
	assert.Empty(t, th.Recipients)
	assert.Equal(t, []Channel{ChannelEmail}, th.NotificationMethods)
}

func TestFormatMessage(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	th := Threshold{Name: "Low sales", Metric: "sales.total", Operator: OpLessThan, Threshold: 1000}
	assert.Equal(t,
		"Low sales: sales.total is $850.00, below threshold $1,000.00 (2026-03-02 09:00:00 UTC)",
		FormatMessage(th, 850, at))

	margin := Threshold{Name: "Margin", Metric: "profit.margin", Operator: OpLessThan, Threshold: 10}
	assert.Contains(t, FormatMessage(margin, 8.26, at), "8.3%")

	count := Threshold{Metric: "reports.count", Operator: OpGreaterThan, Threshold: 1200}
	msg := FormatMessage(count, 1500, at)
	assert.True(t, strings.HasPrefix(msg, "reports.count: "))
	assert.Contains(t, msg, "1,500")
}

func TestBuildEmail(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	th := Threshold{Name: "<High> expenses", Metric: "expenses.total", Operator: OpGreaterThan, Threshold: 500, Severity: SeverityCritical}
	m, err := buildEmail("alerts@opsboard.local", []string{"ops@example.com"}, th, 750, at)
	require.NoError(t, err)
	assert.Equal(t, "[CRITICAL] Alert: <High> expenses", m.Subject)
	assert.Contains(t, m.Text, "Current value: $750.00")
	assert.Contains(t, m.Text, "Threshold:     greater_than $500.00")
	assert.Contains(t, m.HTML, "&lt;High&gt; expenses")
	assert.Contains(t, m.HTML, "2026-03-02 09:00:00 UTC")
}
