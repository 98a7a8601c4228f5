package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/alerting"
	"github.com/opsboard/opsboard-analytics/internal/analytics"
	"github.com/opsboard/opsboard-analytics/internal/analytics/forecasting"
	"github.com/opsboard/opsboard-analytics/internal/cache"
	"github.com/opsboard/opsboard-analytics/internal/db"
	"github.com/opsboard/opsboard-analytics/internal/recordstore"
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

var testNow = time.Date(2026, 3, 23, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	records *recordstore.MemoryStore
	alerts  *alerting.Engine
	srv     *Server
}

func newTestEnv(t *testing.T, mutate func(*Config, *Deps)) *testEnv {
	t.Helper()
	kv, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	now := func() time.Time { return testNow }
	opts := cache.DefaultOptions()
	opts.Now = now
	c := cache.New(context.Background(), kv, zap.NewNop(), opts)

	records := recordstore.NewMemoryStore()
	fcfg := forecasting.DefaultConfig()
	fcfg.Now = now
	svc := analytics.NewService(records, c, forecasting.NewEngine(records, zap.NewNop(), fcfg), zap.NewNop(), now)

	acfg := alerting.DefaultConfig()
	acfg.Now = now
	alerts := alerting.NewEngine(kv, nil, zap.NewNop(), acfg)

	cfg := Config{AllowedOrigins: []string{"http://localhost:3000"}, DefaultTimeframe: "7d"}
	deps := Deps{Analytics: svc, Alerts: alerts, Logger: zap.NewNop()}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	srv, err := New(cfg, deps)
	require.NoError(t, err)
	return &testEnv{records: records, alerts: alerts, srv: srv}
}

// seed inserts one report per day for the days [today-from, today-to].
func (e *testEnv) seed(from, to int, sales float64) {
	today := time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)
	for i := from; i >= to; i-- {
		e.records.Insert(recordstore.DailyReportsTable, recordstore.Record{
			recordstore.FieldDate:        today.AddDate(0, 0, -i).Format("2006-01-02"),
			recordstore.FieldStation:     "ST-1",
			recordstore.FieldTotalSales:  sales,
			recordstore.FieldFuelVolume:  sales / 4,
			recordstore.FieldFuelRevenue: sales / 2,
			recordstore.FieldExpenses:    `[{"category":"utilities","amount":20}]`,
		})
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:40000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), rr.Body.String())
}

const salesThreshold = `{
	"name": "Strong sales",
	"metric": "sales.total",
	"operator": "greater_than",
	"threshold": 500,
	"is_active": true,
	"notification_methods": ["in_app"]
}`

// ─── Health ──────────────────────────────────────────────────────────────────

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestHealthInfoAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"healthy"`)

	rr = env.do(t, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var info map[string]any
	decode(t, rr, &info)
	assert.Equal(t, "opsboard-analytics", info["name"])

	rr = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestReady(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("database is locked") }
	})
	rr := env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")

	env = newTestEnv(t, nil)
	rr = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), ErrCodeNotFound)

	rr = env.do(t, http.MethodPatch, "/api/v1/analytics/metrics", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analytics/metrics", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Deps) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})
	t.Cleanup(env.srv.limiter.Stop)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/cache/stats", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/api/v1/cache/stats", "").Code)
	// Probes are outside the limited subrouter.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code)
}

// ─── Analytics ───────────────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(6, 0, 100)

	rr := env.do(t, http.MethodGet, "/api/v1/analytics/metrics?timeframe=7d&stations=ST-1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var m analytics.Metrics
	decode(t, rr, &m)
	assert.InDelta(t, 700, m.Sales.Total, 1e-9)
	assert.Equal(t, 7, m.Reports.Count)
	assert.False(t, m.Stale)

	rr = env.do(t, http.MethodGet, "/api/v1/analytics/metrics?timeframe=fortnight", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.records.FailWith(errors.New("connection refused"))

	rr := env.do(t, http.MethodGet, "/api/v1/analytics/metrics", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestComparisonEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(13, 7, 50)
	env.seed(6, 0, 100)

	rr := env.do(t, http.MethodGet, "/api/v1/analytics/comparison?timeframe=7d", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var c analytics.Comparison
	decode(t, rr, &c)
	assert.InDelta(t, 700, c.Current.Sales.Total, 1e-9)
	assert.InDelta(t, 350, c.Previous.Sales.Total, 1e-9)
}

func TestChartEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(6, 0, 100)

	rr := env.do(t, http.MethodGet, "/api/v1/analytics/chart/"+forecasting.SeriesSales+"?timeframe=7d", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var c analytics.Chart
	decode(t, rr, &c)
	assert.Len(t, c.Points, 7)

	rr = env.do(t, http.MethodGet, "/api/v1/analytics/chart/weather", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(2, 0, 100)

	rr := env.do(t, http.MethodGet, "/api/v1/analytics/export?timeframe=3d&format=csv", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))

	rows, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "date", rows[0][0])
	assert.Contains(t, rows[0], "expenses_utilities")
	assert.Equal(t, "2026-03-21", rows[1][0])
	assert.Equal(t, "100.00", rows[1][2])

	rr = env.do(t, http.MethodGet, "/api/v1/analytics/export?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestForecastEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(2, 0, 100)

	rr := env.do(t, http.MethodPost, "/api/v1/analytics/forecast", `{"forecast_days":7,"model":"moving_average"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var apiErr APIError
	decode(t, rr, &apiErr)
	assert.Equal(t, "insufficient_data", apiErr.Status)

	env.seed(29, 3, 100)
	rr = env.do(t, http.MethodPost, "/api/v1/analytics/forecast", `{"forecast_days":7,"model":"moving_average"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var f forecasting.Forecast
	decode(t, rr, &f)
	assert.Len(t, f.Sales, 7)
	assert.Equal(t, forecasting.ModelMovingAverage, f.Metadata.Model)

	rr = env.do(t, http.MethodPost, "/api/v1/analytics/forecast/summary", `{"forecast_days":7,"model":"moving_average"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var s forecasting.Summary
	decode(t, rr, &s)
	assert.Equal(t, 7, s.ForecastDays)

	rr = env.do(t, http.MethodPost, "/api/v1/analytics/forecast", `{"model":"arima"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/analytics/forecast", `{"forecast_days":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// ─── Cache ───────────────────────────────────────────────────────────────────

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(6, 0, 100)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/analytics/metrics?timeframe=7d", "").Code)

	rr := env.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats cache.Stats
	decode(t, rr, &stats)
	assert.Equal(t, 1, stats.ByCategory["metrics"])

	rr = env.do(t, http.MethodPost, "/api/v1/cache/invalidate/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var inv map[string]any
	decode(t, rr, &inv)
	assert.EqualValues(t, 1, inv["removed"])

	rr = env.do(t, http.MethodPost, "/api/v1/cache/invalidate/weather", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/analytics/chart/sales", "").Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/cache", "").Code)
	assert.Zero(t, env.srv.analytics.Cache().Stats().Entries)
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

func TestThresholdCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/v1/alerts/thresholds", salesThreshold)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created alerting.Threshold
	decode(t, rr, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, alerting.SeverityWarning, created.Severity)

	rr = env.do(t, http.MethodGet, "/api/v1/alerts/thresholds", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Thresholds []alerting.Threshold `json:"thresholds"`
		Total      int                  `json:"total"`
	}
	decode(t, rr, &list)
	assert.Equal(t, 1, list.Total)

	update := strings.Replace(salesThreshold, "500", "800", 1)
	rr = env.do(t, http.MethodPut, "/api/v1/alerts/thresholds/"+created.ID, update)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated alerting.Threshold
	decode(t, rr, &updated)
	assert.Equal(t, 800.0, updated.Threshold)
	assert.Equal(t, created.ID, updated.ID)

	rr = env.do(t, http.MethodGet, "/api/v1/alerts/thresholds/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/alerts/thresholds/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/v1/alerts/thresholds/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/alerts/thresholds/missing", "").Code)
}

func TestThresholdValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/v1/alerts/thresholds", `{"name":"x","metric":"sales.total","operator":"between"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), ErrCodeValidationFailed)

	rr = env.do(t, http.MethodPost, "/api/v1/alerts/thresholds", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/alerts/thresholds", `{"colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckHistoryAndAcknowledge(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/alerts/thresholds", salesThreshold).Code)

	rr := env.do(t, http.MethodPost, "/api/v1/alerts/check", `{"metrics":{"sales":{"total":700}}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var check struct {
		Fired []firingResponse `json:"fired"`
		Count int              `json:"count"`
	}
	decode(t, rr, &check)
	require.Equal(t, 1, check.Count)
	assert.Empty(t, check.Fired[0].DispatchError)
	id := check.Fired[0].Notification.ID

	// Cooldown suppresses an immediate second firing.
	rr = env.do(t, http.MethodPost, "/api/v1/alerts/check", `{"metrics":{"sales":{"total":900}}}`)
	decode(t, rr, &check)
	assert.Equal(t, 0, check.Count)

	rr = env.do(t, http.MethodGet, "/api/v1/alerts/history?unacknowledged=true", "")
	var hist struct {
		History []alerting.Notification `json:"history"`
		Total   int                     `json:"total"`
	}
	decode(t, rr, &hist)
	assert.Equal(t, 1, hist.Total)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/alerts/history/"+id+"/ack", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/alerts/history/missing/ack", "").Code)

	rr = env.do(t, http.MethodGet, "/api/v1/alerts/history?unacknowledged=true", "")
	decode(t, rr, &hist)
	assert.Equal(t, 0, hist.Total)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/alerts/history", "").Code)
	assert.Empty(t, env.alerts.History())
}

func TestCheckUsesCurrentMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(6, 0, 100)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/alerts/thresholds", salesThreshold).Code)

	rr := env.do(t, http.MethodPost, "/api/v1/alerts/check?timeframe=7d", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var check struct {
		Fired []firingResponse `json:"fired"`
		Count int              `json:"count"`
	}
	decode(t, rr, &check)
	require.Equal(t, 1, check.Count)
	assert.InDelta(t, 700, check.Fired[0].Notification.MetricValue, 1e-9)
}

func TestHistoryLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 3; i++ {
		body := strings.Replace(salesThreshold, "Strong sales", "Strong sales "+strconv.Itoa(i), 1)
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/alerts/thresholds", body).Code)
	}
	env.do(t, http.MethodPost, "/api/v1/alerts/check", `{"metrics":{"sales":{"total":700}}}`)

	rr := env.do(t, http.MethodGet, "/api/v1/alerts/history?limit=2", "")
	var hist struct {
		Total int `json:"total"`
	}
	decode(t, rr, &hist)
	assert.Equal(t, 2, hist.Total)
}

// ─── Alert stream ────────────────────────────────────────────────────────────

func TestAlertStream(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/alerts/thresholds", salesThreshold).Code)

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()
	defer env.srv.Hub().Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/alerts/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.srv.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/v1/alerts/check", "application/json",
		bytes.NewBufferString(`{"metrics":{"sales":{"total":700}}}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeAlert, msg.Type)
	require.NotNil(t, msg.Notification)
	assert.InDelta(t, 700, msg.Notification.MetricValue, 1e-9)
}

func TestAlertStreamRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/alerts/stream"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubDropsClientsOnClose(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/alerts/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.srv.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.srv.Hub().Close()
	assert.Equal(t, 0, env.srv.Hub().ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Deps) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})
	require.NoError(t, env.srv.Start())
	assert.True(t, env.srv.IsRunning())
	assert.Error(t, env.srv.Start())

	require.NoError(t, env.srv.Stop(context.Background()))
	assert.False(t, env.srv.IsRunning())
	assert.Error(t, env.srv.Stop(context.Background()))
}
