// Package forecasting projects daily station metrics (sales, fuel, expenses,
// profitability) a few days ahead.
//
// History is read from the record store over a fixed lookback window,
// aggregated into one data point per calendar day, and each series is run
// through the selected estimation model:
//
//   - linear regression: least squares over day index, confidence from R²
//   - moving average: flat mean of the trailing week, confidence from the
//     coefficient of variation
//   - exponential smoothing (default): single smoothing with α = 0.3,
//     confidence from the one-step mean absolute error
//   - seasonal: weekday factors around an exponentially smoothed level
//
// Every forecast point carries a confidence that decays with horizon and
// bounds of predicted ± predicted·(1−confidence). Series too short for the
// chosen model fall back to a flat mean with a fixed ±30% band. Values are
// never negative.
package forecasting

import (
	"errors"
	"time"
)

// ErrInsufficientHistory is returned when the lookback window holds fewer
// than MinHistoryDays aggregated days. No partial forecast is produced.
var ErrInsufficientHistory = errors.New("insufficient history for forecast")

// ErrInvalidOptions is returned for an unknown model or horizon.
var ErrInvalidOptions = errors.New("invalid forecast options")

// Model names an estimation model.
type Model string

const (
	ModelLinearRegression     Model = "linear_regression"
	ModelMovingAverage        Model = "moving_average"
	ModelExponentialSmoothing Model = "exponential_smoothing"
	ModelSeasonal             Model = "seasonal"

	// modelFallback only appears in per-series metadata.
	modelFallback Model = "fallback"
)

// Valid reports whether m is a selectable model.
func (m Model) Valid() bool {
	switch m {
	case ModelLinearRegression, ModelMovingAverage, ModelExponentialSmoothing, ModelSeasonal:
		return true
	}
	return false
}

// Tuning constants. The decay rates λ scale confidence(i) = base·e^(−λ·i).
const (
	LookbackDays   = 90
	MinHistoryDays = 7

	LinearDecay        = 0.05
	LinearMinR2        = 0.3
	LinearMaxR2        = 0.9
	MovingAverageDecay = 0.03
	MovingAverageMin   = 0.2
	MovingAverageMax   = 0.95
	SmoothingDecay     = 0.04
	SmoothingMin       = 0.1
	SmoothingMax       = 1.0
	FallbackDecay      = 0.1

	SmoothingAlpha      = 0.3
	MovingAverageWindow = 7
	SeasonalMinPoints   = 14

	FallbackConfidence = 0.5
	FallbackBand       = 0.3

	// SpreadFactor is k in predicted ± predicted·(1−confidence)·k.
	SpreadFactor = 1.0

	DefaultForecastDays = 7
	MaxForecastDays     = 90
)

// Options is a forecast request. Timeframe labels the request for caching
// and display; the lookback window is fixed.
type Options struct {
	Timeframe    string   `json:"timeframe"`
	Stations     []string `json:"stations"`
	ForecastDays int      `json:"forecast_days"`
	Model        Model    `json:"model"`
}

// DataPoint is one aggregated observation per calendar day.
type DataPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ForecastResult is one projected day of one series.
type ForecastResult struct {
	Date       time.Time `json:"date"`
	Predicted  float64   `json:"predicted"`
	Confidence float64   `json:"confidence"`
	UpperBound float64   `json:"upper_bound"`
	LowerBound float64   `json:"lower_bound"`
}

// SeasonalPattern holds one multiplicative factor per weekday, indexed by
// time.Weekday.
type SeasonalPattern struct {
	Weekly [7]float64 `json:"weekly"`
}

// FuelPoint merges the volume and revenue projections of one day.
type FuelPoint struct {
	Date    time.Time      `json:"date"`
	Volume  ForecastResult `json:"volume"`
	Revenue ForecastResult `json:"revenue"`
}

// ExpensePoint merges the total and per-category projections of one day.
type ExpensePoint struct {
	Date       time.Time                 `json:"date"`
	Total      ForecastResult            `json:"total"`
	Categories map[string]ForecastResult `json:"categories"`
}

// ProfitPoint reports projected profit and margin (percent) together.
type ProfitPoint struct {
	Date   time.Time      `json:"date"`
	Profit ForecastResult `json:"profit"`
	Margin ForecastResult `json:"margin"`
}

// Metadata describes how a forecast was produced.
type Metadata struct {
	Model          Model              `json:"model"`
	Timeframe      string             `json:"timeframe"`
	Stations       []string           `json:"stations"`
	ForecastDays   int                `json:"forecast_days"`
	HistoricalDays int                `json:"historical_days"`
	GeneratedAt    time.Time          `json:"generated_at"`
	Confidence     float64            `json:"confidence"`
	SeriesModels   map[string]Model   `json:"series_models"`
	RecentAverages map[string]float64 `json:"recent_averages"`
}

// Forecast is the full multi-family result.
type Forecast struct {
	Sales         []ForecastResult `json:"sales"`
	Fuel          []FuelPoint      `json:"fuel"`
	Expenses      []ExpensePoint   `json:"expenses"`
	Profitability []ProfitPoint    `json:"profitability"`
	Metadata      Metadata         `json:"metadata"`
}
