// Package analytics computes the dashboard's aggregate metrics, period
// comparisons, chart series and exports from the daily report table, and
// memoizes them through the result cache.
//
// Metric values are exposed as a nested object so alert thresholds can
// address them by dotted path:
//
//	sales.total, sales.average_daily
//	fuel.volume, fuel.revenue
//	expenses.total, expenses.<category>
//	profit.total, profit.margin
//	reports.count, reports.days
package analytics

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opsboard/opsboard-analytics/internal/analytics/forecasting"
	"github.com/opsboard/opsboard-analytics/internal/recordstore"
)

var (
	// ErrInvalidTimeframe is returned for an unrecognised timeframe.
	ErrInvalidTimeframe = errors.New("invalid timeframe")

	// ErrUnknownMetric is returned for a chart metric without a series.
	ErrUnknownMetric = errors.New("unknown chart metric")
)

// DefaultTimeframe is used when a request does not name one.
const DefaultTimeframe = "30d"

var namedTimeframes = map[string]int{
	"today":   1,
	"week":    7,
	"month":   30,
	"quarter": 90,
	"year":    365,
}

// TimeframeDays converts "7d", "30d", "week", "month" and similar to a day
// count. The window ends today and includes it.
func TimeframeDays(tf string) (int, error) {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if tf == "" {
		tf = DefaultTimeframe
	}
	if d, ok := namedTimeframes[tf]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(strings.TrimSuffix(tf, "d")); err == nil && strings.HasSuffix(tf, "d") && n > 0 && n <= 366 {
		return n, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, tf)
}

// Request selects the reporting window and station set.
type Request struct {
	Timeframe string   `json:"timeframe"`
	Stations  []string `json:"stations,omitempty"`
}

// normalize fills the default timeframe and canonicalises stations so equal
// requests share a cache key.
func (r Request) normalize() (Request, int, error) {
	if strings.TrimSpace(r.Timeframe) == "" {
		r.Timeframe = DefaultTimeframe
	}
	r.Timeframe = strings.ToLower(strings.TrimSpace(r.Timeframe))
	days, err := TimeframeDays(r.Timeframe)
	if err != nil {
		return r, 0, err
	}
	if recordstore.AllStations(r.Stations) {
		r.Stations = nil
	} else {
		stations := append([]string(nil), r.Stations...)
		sort.Strings(stations)
		r.Stations = stations
	}
	return r, days, nil
}

// ─── Metrics ──────────────────────────────────────────────────────────────────

// SalesMetrics totals sales over the window; AverageDaily divides by its length in days.
type SalesMetrics struct {
	Total        float64 `json:"total"`
	AverageDaily float64 `json:"average_daily"`
}

// FuelMetrics sums dispensed volume and fuel revenue.
type FuelMetrics struct {
	Volume  float64 `json:"volume"`
	Revenue float64 `json:"revenue"`
}

// ExpenseMetrics totals expenses, with a per-category breakdown.
type ExpenseMetrics struct {
	Total      float64            `json:"total"`
	ByCategory map[string]float64 `json:"by_category"`
}

// ProfitMetrics is sales minus expenses. Margin is a percentage of sales.
type ProfitMetrics struct {
	Total  float64 `json:"total"`
	Margin float64 `json:"margin"`
}

// ReportMetrics counts the reports in the window and the days they cover.
type ReportMetrics struct {
	Count int `json:"count"`
	Days  int `json:"days"`
}

// Metrics is the aggregate of one reporting window.
type Metrics struct {
	Timeframe   string         `json:"timeframe"`
	Stations    []string       `json:"stations,omitempty"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	GeneratedAt time.Time      `json:"generated_at"`
	Sales       SalesMetrics   `json:"sales"`
	Fuel        FuelMetrics    `json:"fuel"`
	Expenses    ExpenseMetrics `json:"expenses"`
	Profit      ProfitMetrics  `json:"profit"`
	Reports     ReportMetrics  `json:"reports"`

	// Stale marks a last-known-good backup served because the live query failed.
	Stale bool `json:"stale"`
}

// Values returns the metrics as the nested object alert thresholds walk.
func (m *Metrics) Values() map[string]any {
	expenses := map[string]any{"total": m.Expenses.Total}
	for c, v := range m.Expenses.ByCategory {
		expenses[c] = v
	}
	return map[string]any{
		"sales": map[string]any{
			"total":         m.Sales.Total,
			"average_daily": m.Sales.AverageDaily,
		},
		"fuel": map[string]any{
			"volume":  m.Fuel.Volume,
			"revenue": m.Fuel.Revenue,
		},
		"expenses": expenses,
		"profit": map[string]any{
			"total":  m.Profit.Total,
			"margin": m.Profit.Margin,
		},
		"reports": map[string]any{
			"count": m.Reports.Count,
			"days":  m.Reports.Days,
		},
	}
}

// summarize folds daily totals into window metrics. The daily average is
// over the window length, so days without reports count as zero.
func summarize(days []forecasting.DailyTotals, windowDays int) Metrics {
	m := Metrics{Expenses: ExpenseMetrics{ByCategory: make(map[string]float64, len(recordstore.ExpenseCategories))}}
	for _, c := range recordstore.ExpenseCategories {
		m.Expenses.ByCategory[c] = 0
	}
	for _, d := range days {
		m.Sales.Total += d.Sales
		m.Fuel.Volume += d.FuelVolume
		m.Fuel.Revenue += d.FuelRevenue
		m.Expenses.Total += d.Expenses
		for c, v := range d.Categories {
			m.Expenses.ByCategory[c] += v
		}
		m.Reports.Count += d.Reports
	}
	m.Reports.Days = len(days)
	if windowDays > 0 {
		m.Sales.AverageDaily = m.Sales.Total / float64(windowDays)
	}
	m.Profit.Total = m.Sales.Total - m.Expenses.Total
	if m.Sales.Total != 0 {
		m.Profit.Margin = m.Profit.Total / m.Sales.Total * 100
	}
	return m
}

// ─── Comparison ───────────────────────────────────────────────────────────────

// Change compares one metric across two windows.
type Change struct {
	Current       float64 `json:"current"`
	Previous      float64 `json:"previous"`
	ChangePercent float64 `json:"change_percent"`
	Trend         string  `json:"trend"`
}

// Comparison is the current window against the window just before it.
type Comparison struct {
	Current  Metrics           `json:"current"`
	Previous Metrics           `json:"previous"`
	Changes  map[string]Change `json:"changes"`
}

// stableBand is the percent change treated as flat.
const stableBand = 5.0

func newChange(current, previous float64) Change {
	c := Change{Current: current, Previous: previous, Trend: forecasting.TrendStable}
	switch {
	case previous == 0 && current == 0:
	case previous == 0:
		c.ChangePercent = 100
		if current < 0 {
			c.ChangePercent = -100
		}
	default:
		c.ChangePercent = (current - previous) / absf(previous) * 100
	}
	switch {
	case c.ChangePercent > stableBand:
		c.Trend = forecasting.TrendIncreasing
	case c.ChangePercent < -stableBand:
		c.Trend = forecasting.TrendDecreasing
	}
	return c
}

func compare(current, previous Metrics) Comparison {
	changes := map[string]Change{
		"sales.total":         newChange(current.Sales.Total, previous.Sales.Total),
		"sales.average_daily": newChange(current.Sales.AverageDaily, previous.Sales.AverageDaily),
		"fuel.volume":         newChange(current.Fuel.Volume, previous.Fuel.Volume),
		"fuel.revenue":        newChange(current.Fuel.Revenue, previous.Fuel.Revenue),
		"expenses.total":      newChange(current.Expenses.Total, previous.Expenses.Total),
		"profit.total":        newChange(current.Profit.Total, previous.Profit.Total),
		"profit.margin":       newChange(current.Profit.Margin, previous.Profit.Margin),
		"reports.count":       newChange(float64(current.Reports.Count), float64(previous.Reports.Count)),
	}
	return Comparison{Current: current, Previous: previous, Changes: changes}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ─── Charts and exports ───────────────────────────────────────────────────────

// Chart is one daily series over the window.
type Chart struct {
	Metric    string                  `json:"metric"`
	Timeframe string                  `json:"timeframe"`
	Stations  []string                `json:"stations,omitempty"`
	Points    []forecasting.DataPoint `json:"points"`
}

// ChartMetrics lists the series a chart can show.
func ChartMetrics() []string {
	out := []string{
		forecasting.SeriesSales,
		forecasting.SeriesFuelVolume,
		forecasting.SeriesFuelRevenue,
		forecasting.SeriesExpenseTotal,
		forecasting.SeriesProfit,
		forecasting.SeriesMargin,
	}
	for _, c := range recordstore.ExpenseCategories {
		out = append(out, forecasting.ExpenseSeries(c))
	}
	return out
}

func validChartMetric(metric string) bool {
	for _, m := range ChartMetrics() {
		if m == metric {
			return true
		}
	}
	return false
}

// ExportRow is one day of the export table.
type ExportRow struct {
	Date        string             `json:"date"`
	Reports     int                `json:"reports"`
	Sales       float64            `json:"sales"`
	FuelVolume  float64            `json:"fuel_volume"`
	FuelRevenue float64            `json:"fuel_revenue"`
	Expenses    float64            `json:"expenses"`
	Categories  map[string]float64 `json:"categories"`
	Profit      float64            `json:"profit"`
	Margin      float64            `json:"margin"`
}

// Export is the daily breakdown of a window.
type Export struct {
	Timeframe string      `json:"timeframe"`
	Stations  []string    `json:"stations,omitempty"`
	Rows      []ExportRow `json:"rows"`
}

func exportRows(days []forecasting.DailyTotals) []ExportRow {
	rows := make([]ExportRow, 0, len(days))
	for _, d := range days {
		rows = append(rows, ExportRow{
			Date:        d.Date.Format("2006-01-02"),
			Reports:     d.Reports,
			Sales:       d.Sales,
			FuelVolume:  d.FuelVolume,
			FuelRevenue: d.FuelRevenue,
			Expenses:    d.Expenses,
			Categories:  d.Categories,
			Profit:      d.Profit(),
			Margin:      d.Margin(),
		})
	}
	return rows
}
