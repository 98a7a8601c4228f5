package forecasting

import (
	"sort"
	"time"

	"github.com/opsboard/opsboard-analytics/internal/recordstore"
)

// Series names produced by Aggregate.
const (
	SeriesSales        = "sales"
	SeriesFuelVolume   = "fuel_volume"
	SeriesFuelRevenue  = "fuel_revenue"
	SeriesExpenseTotal = "expenses_total"
	SeriesProfit       = "profit"
	SeriesMargin       = "margin"
)

// ExpenseSeries names the per-category expense series.
func ExpenseSeries(category string) string {
	return "expenses_" + category
}

// DailyTotals is the aggregate of every report of one calendar day.
type DailyTotals struct {
	Date        time.Time
	Reports     int
	Sales       float64
	FuelVolume  float64
	FuelRevenue float64
	Expenses    float64
	Categories  map[string]float64
}

// Profit is sales less expenses for the day.
func (d DailyTotals) Profit() float64 { return d.Sales - d.Expenses }

// Margin is profit as a percent of sales; zero on a day without sales.
func (d DailyTotals) Margin() float64 {
	if d.Sales == 0 {
		return 0
	}
	return d.Profit() / d.Sales * 100
}

// AggregateDays groups reports by calendar day in ascending order. Days
// without reports are absent.
func AggregateDays(reports []recordstore.DailyReport) []DailyTotals {
	byDay := make(map[time.Time]*DailyTotals)
	for _, r := range reports {
		day := r.Day()
		d, ok := byDay[day]
		if !ok {
			d = &DailyTotals{Date: day, Categories: make(map[string]float64, len(recordstore.ExpenseCategories))}
			for _, c := range recordstore.ExpenseCategories {
				d.Categories[c] = 0
			}
			byDay[day] = d
		}
		d.Reports++
		d.Sales += r.TotalSales
		d.FuelVolume += r.FuelVolume
		d.FuelRevenue += r.FuelRevenue
		d.Expenses += r.ExpenseTotal()
		if _, present := r.Expenses.Items(); present {
			for c, amt := range r.Expenses.ByCategory() {
				d.Categories[c] += amt
			}
		}
	}

	out := make([]DailyTotals, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// BuildSeries turns daily totals into one DataPoint series per metric.
func BuildSeries(days []DailyTotals) map[string][]DataPoint {
	series := make(map[string][]DataPoint)
	add := func(name string, date time.Time, v float64) {
		series[name] = append(series[name], DataPoint{Date: date, Value: v})
	}
	for _, d := range days {
		add(SeriesSales, d.Date, d.Sales)
		add(SeriesFuelVolume, d.Date, d.FuelVolume)
		add(SeriesFuelRevenue, d.Date, d.FuelRevenue)
		add(SeriesExpenseTotal, d.Date, d.Expenses)
		add(SeriesProfit, d.Date, d.Profit())
		add(SeriesMargin, d.Date, d.Margin())
		for _, c := range recordstore.ExpenseCategories {
			add(ExpenseSeries(c), d.Date, d.Categories[c])
		}
	}
	return series
}
