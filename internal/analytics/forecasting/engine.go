package forecasting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/metrics"
	"github.com/opsboard/opsboard-analytics/internal/recordstore"
)

// Config tunes the engine.
type Config struct {
	LookbackDays    int
	MaxForecastDays int
	DefaultModel    Model

	// Now is the clock that anchors the lookback window. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LookbackDays:    LookbackDays,
		MaxForecastDays: MaxForecastDays,
		DefaultModel:    ModelExponentialSmoothing,
	}
}

// Engine generates forecasts from the daily report table.
type Engine struct {
	store  recordstore.Store
	logger *zap.Logger
	cfg    Config
}

// NewEngine creates a forecast engine reading from store.
func NewEngine(store recordstore.Store, logger *zap.Logger, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	if cfg.MaxForecastDays <= 0 {
		cfg.MaxForecastDays = def.MaxForecastDays
	}
	if !cfg.DefaultModel.Valid() {
		cfg.DefaultModel = def.DefaultModel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger.With(zap.String("component", "forecast_engine")), cfg: cfg}
}

// Normalize fills defaults and validates the request.
func (e *Engine) Normalize(opts Options) (Options, error) {
	if opts.Model == "" {
		opts.Model = e.cfg.DefaultModel
	}
	if !opts.Model.Valid() {
		return opts, fmt.Errorf("%w: unknown model %q", ErrInvalidOptions, opts.Model)
	}
	if opts.ForecastDays == 0 {
		opts.ForecastDays = DefaultForecastDays
	}
	if opts.ForecastDays < 1 || opts.ForecastDays > e.cfg.MaxForecastDays {
		return opts, fmt.Errorf("%w: forecast_days must be between 1 and %d", ErrInvalidOptions, e.cfg.MaxForecastDays)
	}
	if recordstore.AllStations(opts.Stations) {
		opts.Stations = nil
	} else {
		stations := append([]string(nil), opts.Stations...)
		sort.Strings(stations)
		opts.Stations = stations
	}
	return opts, nil
}

// Generate fetches the lookback window and forecasts every metric family.
// It fails with ErrInsufficientHistory when fewer than MinHistoryDays days
// have reports.
func (e *Engine) Generate(ctx context.Context, opts Options) (*Forecast, error) {
	opts, err := e.Normalize(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	status := "ok"
	defer func() {
		metrics.ForecastsTotal.WithLabelValues(string(opts.Model), status).Inc()
		metrics.ForecastDuration.WithLabelValues(string(opts.Model)).Observe(time.Since(start).Seconds())
	}()

	now := e.cfg.Now().UTC()
	filter := recordstore.ReportFilter{
		From:     now.AddDate(0, 0, -e.cfg.LookbackDays),
		To:       now,
		Stations: opts.Stations,
	}
	reports, err := recordstore.FetchDailyReports(ctx, e.store, filter, e.logger)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	days := AggregateDays(reports)
	if len(days) < MinHistoryDays {
		status = "insufficient_data"
		return nil, fmt.Errorf("%w: %d days with reports, need %d", ErrInsufficientHistory, len(days), MinHistoryDays)
	}

	f := e.fromDays(days, opts, now)
	e.logger.Info("forecast generated",
		zap.String("model", string(opts.Model)),
		zap.Int("historical_days", len(days)),
		zap.Int("forecast_days", opts.ForecastDays),
		zap.Float64("confidence", f.Metadata.Confidence),
	)
	return f, nil
}

// FromDays forecasts already aggregated history. It applies the same
// minimum-history rule as Generate.
func (e *Engine) FromDays(days []DailyTotals, opts Options) (*Forecast, error) {
	opts, err := e.Normalize(opts)
	if err != nil {
		return nil, err
	}
	if len(days) < MinHistoryDays {
		return nil, fmt.Errorf("%w: %d days with reports, need %d", ErrInsufficientHistory, len(days), MinHistoryDays)
	}
	return e.fromDays(days, opts, e.cfg.Now().UTC()), nil
}

func (e *Engine) fromDays(days []DailyTotals, opts Options, now time.Time) *Forecast {
	series := BuildSeries(days)
	lastDay := days[len(days)-1].Date

	results := make(map[string][]ForecastResult, len(series))
	used := make(map[string]Model, len(series))
	for name, points := range series {
		out, model := forecastSeries(points, opts.Model, opts.ForecastDays, lastDay)
		results[name] = out
		used[name] = model
		if model == modelFallback {
			metrics.ForecastFallbacks.WithLabelValues(string(opts.Model)).Inc()
			e.logger.Debug("series degraded to fallback", zap.String("series", name), zap.Int("points", len(points)))
		}
	}

	f := &Forecast{
		Sales:         results[SeriesSales],
		Fuel:          make([]FuelPoint, opts.ForecastDays),
		Expenses:      make([]ExpensePoint, opts.ForecastDays),
		Profitability: make([]ProfitPoint, opts.ForecastDays),
	}
	for i := 0; i < opts.ForecastDays; i++ {
		date := results[SeriesSales][i].Date
		f.Fuel[i] = FuelPoint{
			Date:    date,
			Volume:  results[SeriesFuelVolume][i],
			Revenue: results[SeriesFuelRevenue][i],
		}
		cats := make(map[string]ForecastResult, len(recordstore.ExpenseCategories))
		for _, c := range recordstore.ExpenseCategories {
			cats[c] = results[ExpenseSeries(c)][i]
		}
		f.Expenses[i] = ExpensePoint{Date: date, Total: results[SeriesExpenseTotal][i], Categories: cats}
		f.Profitability[i] = ProfitPoint{
			Date:   date,
			Profit: results[SeriesProfit][i],
			Margin: results[SeriesMargin][i],
		}
	}

	conf := 0.0
	for _, r := range f.Sales {
		conf += r.Confidence
	}
	conf /= float64(len(f.Sales))

	f.Metadata = Metadata{
		Model:          opts.Model,
		Timeframe:      opts.Timeframe,
		Stations:       opts.Stations,
		ForecastDays:   opts.ForecastDays,
		HistoricalDays: len(days),
		GeneratedAt:    now,
		Confidence:     conf,
		SeriesModels:   used,
		RecentAverages: recentAverages(series),
	}
	return f
}

// recentAverages is the mean of each series over its trailing week; the
// summary compares projections against it.
func recentAverages(series map[string][]DataPoint) map[string]float64 {
	out := make(map[string]float64, len(series))
	for name, points := range series {
		vals := values(points)
		if len(vals) > MovingAverageWindow {
			vals = vals[len(vals)-MovingAverageWindow:]
		}
		out[name] = safeFloat(mean(vals))
	}
	return out
}

// IsInsufficientHistory reports whether err means "not enough data" rather
// than a failure.
func IsInsufficientHistory(err error) bool {
	return errors.Is(err, ErrInsufficientHistory)
}
