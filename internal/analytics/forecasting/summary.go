package forecasting

import (
	"fmt"
	"math"

	"github.com/opsboard/opsboard-analytics/internal/units"
)

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// TrendThresholdPercent is the change beyond which a trend is not stable.
const TrendThresholdPercent = 5.0

// lowConfidence flags forecasts worth a warning in the insights.
const lowConfidence = 0.5

// Summary condenses a forecast into totals, a sales trend and insights.
type Summary struct {
	ForecastDays      int      `json:"forecast_days"`
	Model             Model    `json:"model"`
	TotalSales        float64  `json:"total_sales"`
	AverageDailySales float64  `json:"average_daily_sales"`
	TotalFuelVolume   float64  `json:"total_fuel_volume"`
	TotalFuelRevenue  float64  `json:"total_fuel_revenue"`
	TotalExpenses     float64  `json:"total_expenses"`
	TotalProfit       float64  `json:"total_profit"`
	AverageMargin     float64  `json:"average_margin"`
	SalesTrend        string   `json:"sales_trend"`
	SalesChange       float64  `json:"sales_change_percent"`
	AverageConfidence float64  `json:"average_confidence"`
	Insights          []string `json:"insights"`
}

// GenerateSummary totals each family and classifies the sales trend: the
// mean projected daily sales against the trailing-week average, or the
// last against the first projected day when no baseline is known. Changes
// within ±5% are stable.
func GenerateSummary(f *Forecast) Summary {
	s := Summary{}
	if f == nil || len(f.Sales) == 0 {
		s.SalesTrend = TrendStable
		return s
	}
	s.ForecastDays = len(f.Sales)
	s.Model = f.Metadata.Model

	confSum := 0.0
	for _, r := range f.Sales {
		s.TotalSales += r.Predicted
		confSum += r.Confidence
	}
	s.AverageDailySales = s.TotalSales / float64(len(f.Sales))
	s.AverageConfidence = confSum / float64(len(f.Sales))

	for _, p := range f.Fuel {
		s.TotalFuelVolume += p.Volume.Predicted
		s.TotalFuelRevenue += p.Revenue.Predicted
	}
	for _, p := range f.Expenses {
		s.TotalExpenses += p.Total.Predicted
	}
	marginSum := 0.0
	for _, p := range f.Profitability {
		s.TotalProfit += p.Profit.Predicted
		marginSum += p.Margin.Predicted
	}
	if len(f.Profitability) > 0 {
		s.AverageMargin = marginSum / float64(len(f.Profitability))
	}

	baseline := f.Metadata.RecentAverages[SeriesSales]
	current := s.AverageDailySales
	if baseline <= 0 {
		baseline = f.Sales[0].Predicted
		current = f.Sales[len(f.Sales)-1].Predicted
	}
	s.SalesChange, s.SalesTrend = classifyTrend(baseline, current)
	s.Insights = insights(s)
	return s
}

func classifyTrend(baseline, current float64) (float64, string) {
	if baseline <= 0 {
		return 0, TrendStable
	}
	change := (current - baseline) / baseline * 100
	if !finite(change) {
		return 0, TrendStable
	}
	switch {
	case change > TrendThresholdPercent:
		return change, TrendIncreasing
	case change < -TrendThresholdPercent:
		return change, TrendDecreasing
	default:
		return change, TrendStable
	}
}

func insights(s Summary) []string {
	out := []string{
		fmt.Sprintf("Projected sales of %s over the next %d days (%s per day).",
			units.Currency(s.TotalSales), s.ForecastDays, units.Currency(s.AverageDailySales)),
	}
	switch s.SalesTrend {
	case TrendIncreasing:
		out = append(out, fmt.Sprintf("Sales are trending up %s against the last week.", units.Percent(s.SalesChange)))
	case TrendDecreasing:
		out = append(out, fmt.Sprintf("Sales are trending down %s against the last week.", units.Percent(math.Abs(s.SalesChange))))
	default:
		out = append(out, "Sales are expected to stay in line with the last week.")
	}
	if s.TotalSales > 0 {
		out = append(out, fmt.Sprintf("Expenses are projected at %s of sales.", units.Percent(s.TotalExpenses/s.TotalSales*100)))
	}
	if s.TotalFuelVolume > 0 {
		out = append(out, fmt.Sprintf("Expected fuel volume: %s litres.", units.Number(s.TotalFuelVolume)))
	}
	out = append(out, fmt.Sprintf("Average profit margin expected around %s.", units.Percent(s.AverageMargin)))
	if s.AverageConfidence < lowConfidence {
		out = append(out, fmt.Sprintf("Low forecast confidence (%s); treat these figures as rough estimates.",
			units.Percent(s.AverageConfidence*100)))
	}
	return out
}
