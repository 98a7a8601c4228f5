package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/analytics/forecasting"
	"github.com/opsboard/opsboard-analytics/internal/cache"
	"github.com/opsboard/opsboard-analytics/internal/recordstore"
)

// Service answers dashboard queries. Every result goes through the result
// cache; the last successful metrics payload is kept as a backup and served
// marked stale when the record store is unavailable.
type Service struct {
	store      recordstore.Store
	cache      *cache.ResultCache
	forecaster *forecasting.Engine
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wires the record store, cache and forecast engine. now may be
// nil.
func NewService(store recordstore.Store, c *cache.ResultCache, forecaster *forecasting.Engine, logger *zap.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      store,
		cache:      c,
		forecaster: forecaster,
		logger:     logger.With(zap.String("component", "analytics_service")),
		now:        now,
	}
}

// Cache exposes the result cache for stats and invalidation.
func (s *Service) Cache() *cache.ResultCache { return s.cache }

// Forecaster exposes the forecast engine.
func (s *Service) Forecaster() *forecasting.Engine { return s.forecaster }

// window returns the inclusive [from, to] day range ending today, shifted
// back by offset windows.
func (s *Service) window(days, offset int) (time.Time, time.Time) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := today.AddDate(0, 0, -days*offset)
	from := to.AddDate(0, 0, -(days - 1))
	return from, to
}

func (s *Service) fetchDays(ctx context.Context, from, to time.Time, stations []string) ([]forecasting.DailyTotals, error) {
	reports, err := recordstore.FetchDailyReports(ctx, s.store, recordstore.ReportFilter{
		From:     from,
		To:       to,
		Stations: stations,
	}, s.logger)
	if err != nil {
		return nil, err
	}
	return forecasting.AggregateDays(reports), nil
}

func (s *Service) computeMetrics(ctx context.Context, req Request, days, offset int) (*Metrics, error) {
	from, to := s.window(days, offset)
	daily, err := s.fetchDays(ctx, from, to, req.Stations)
	if err != nil {
		return nil, err
	}
	m := summarize(daily, days)
	m.Timeframe = req.Timeframe
	m.Stations = req.Stations
	m.From = from
	m.To = to
	m.GeneratedAt = s.now().UTC()
	return &m, nil
}

// ─── Metrics ──────────────────────────────────────────────────────────────────

// Metrics returns the current-window metrics, from cache when possible.
// When the record store fails and a backup younger than its max age exists,
// the backup is returned with Stale set.
func (s *Service) Metrics(ctx context.Context, req Request) (*Metrics, error) {
	req, days, err := req.normalize()
	if err != nil {
		return nil, err
	}

	raw, err := s.cache.GetOrCompute(ctx, cache.CategoryMetrics, 0, func(ctx context.Context) (any, error) {
		m, err := s.computeMetrics(ctx, req, days, 0)
		if err != nil {
			return nil, err
		}
		s.cache.SaveBackup(ctx, m)
		return m, nil
	}, req.Timeframe, req.Stations)
	if err != nil {
		return s.fromBackup(ctx, err)
	}

	var m Metrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return &m, nil
}

// Refresh recomputes the current-window metrics, bypassing the cache, and
// stores the result in both the cache and the backup.
func (s *Service) Refresh(ctx context.Context, req Request) (*Metrics, error) {
	req, days, err := req.normalize()
	if err != nil {
		return nil, err
	}
	m, err := s.computeMetrics(ctx, req, days, 0)
	if err != nil {
		return s.fromBackup(ctx, err)
	}
	if err := s.cache.SetMetrics(ctx, m, req.Timeframe, req.Stations); err != nil {
		s.logger.Warn("failed to cache refreshed metrics", zap.Error(err))
	}
	s.cache.SaveBackup(ctx, m)
	return m, nil
}

func (s *Service) fromBackup(ctx context.Context, cause error) (*Metrics, error) {
	var m Metrics
	savedAt, ok := s.cache.LoadBackup(ctx, &m)
	if !ok {
		return nil, fmt.Errorf("compute metrics: %w", cause)
	}
	s.logger.Warn("record store unavailable, serving metrics backup",
		zap.Time("saved_at", savedAt), zap.Error(cause))
	m.Stale = true
	return &m, nil
}

// Comparison compares the current window with the one before it.
func (s *Service) Comparison(ctx context.Context, req Request) (*Comparison, error) {
	req, days, err := req.normalize()
	if err != nil {
		return nil, err
	}
	raw, err := s.cache.GetOrCompute(ctx, cache.CategoryComparison, 0, func(ctx context.Context) (any, error) {
		current, err := s.computeMetrics(ctx, req, days, 0)
		if err != nil {
			return nil, err
		}
		previous, err := s.computeMetrics(ctx, req, days, 1)
		if err != nil {
			return nil, err
		}
		c := compare(*current, *previous)
		return &c, nil
	}, req.Timeframe, req.Stations)
	if err != nil {
		return nil, fmt.Errorf("compute comparison: %w", err)
	}
	var c Comparison
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode comparison: %w", err)
	}
	return &c, nil
}

// Chart returns one daily series over the window.
func (s *Service) Chart(ctx context.Context, req Request, metric string) (*Chart, error) {
	if !validChartMetric(metric) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	req, days, err := req.normalize()
	if err != nil {
		return nil, err
	}
	raw, err := s.cache.GetOrCompute(ctx, cache.CategoryChart, 0, func(ctx context.Context) (any, error) {
		from, to := s.window(days, 0)
		daily, err := s.fetchDays(ctx, from, to, req.Stations)
		if err != nil {
			return nil, err
		}
		points := forecasting.BuildSeries(daily)[metric]
		if points == nil {
			points = []forecasting.DataPoint{}
		}
		return &Chart{Metric: metric, Timeframe: req.Timeframe, Stations: req.Stations, Points: points}, nil
	}, metric, req.Timeframe, req.Stations)
	if err != nil {
		return nil, fmt.Errorf("compute chart: %w", err)
	}
	var c Chart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode chart: %w", err)
	}
	return &c, nil
}

// Export returns the per-day breakdown of the window.
func (s *Service) Export(ctx context.Context, req Request) (*Export, error) {
	req, days, err := req.normalize()
	if err != nil {
		return nil, err
	}
	raw, err := s.cache.GetOrCompute(ctx, cache.CategoryExport, 0, func(ctx context.Context) (any, error) {
		from, to := s.window(days, 0)
		daily, err := s.fetchDays(ctx, from, to, req.Stations)
		if err != nil {
			return nil, err
		}
		return &Export{Timeframe: req.Timeframe, Stations: req.Stations, Rows: exportRows(daily)}, nil
	}, req.Timeframe, req.Stations)
	if err != nil {
		return nil, fmt.Errorf("compute export: %w", err)
	}
	var e Export
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return &e, nil
}

// ─── Forecasts ────────────────────────────────────────────────────────────────

// Forecast generates (or returns the cached) forecast for opts. Insufficient
// history is returned as an error and never cached.
func (s *Service) Forecast(ctx context.Context, opts forecasting.Options) (*forecasting.Forecast, error) {
	opts, err := s.forecaster.Normalize(opts)
	if err != nil {
		return nil, err
	}
	raw, err := s.cache.GetOrCompute(ctx, cache.CategoryForecast, 0, func(ctx context.Context) (any, error) {
		return s.forecaster.Generate(ctx, opts)
	}, opts.Timeframe, opts.Stations, opts.ForecastDays, string(opts.Model))
	if err != nil {
		return nil, err
	}
	var f forecasting.Forecast
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	return &f, nil
}

// ForecastSummary summarises the forecast for opts.
func (s *Service) ForecastSummary(ctx context.Context, opts forecasting.Options) (forecasting.Summary, error) {
	f, err := s.Forecast(ctx, opts)
	if err != nil {
		return forecasting.Summary{}, err
	}
	return forecasting.GenerateSummary(f), nil
}
