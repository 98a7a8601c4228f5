package forecasting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opsboard/opsboard-analytics/internal/recordstore"
)

func newTestEngine(store recordstore.Store, now time.Time) *Engine {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return now }
	return NewEngine(store, zap.NewNop(), cfg)
}

func seedDays(m *recordstore.MemoryStore, station string, start time.Time, days int, sales func(time.Time) float64) {
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		s := sales(d)
		m.Insert(recordstore.DailyReportsTable, recordstore.Record{
			recordstore.FieldDate:        d.Format("2006-01-02"),
			recordstore.FieldStation:     station,
			recordstore.FieldTotalSales:  s,
			recordstore.FieldFuelVolume:  s / 2,
			recordstore.FieldFuelRevenue: s * 0.8,
			recordstore.FieldExpenses: fmt.Sprintf(`[{"category":"salaries","amount":%.2f},{"category":"maintenance","amount":%.2f}]`,
				s*0.2, s*0.05),
		})
	}
}

func TestGenerateInsufficientHistory(t *testing.T) {
	m := recordstore.NewMemoryStore()
	seedDays(m, "ST-1", monday, 6, func(time.Time) float64 { return 500 })

	e := newTestEngine(m, monday.AddDate(0, 0, 7))
	f, err := e.Generate(context.Background(), Options{ForecastDays: 3})
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if !IsInsufficientHistory(err) {
		t.Error("IsInsufficientHistory should recognise the error")
	}
	if f != nil {
		t.Error("expected no partial forecast")
	}
}

func TestGenerateCountsDaysNotReports(t *testing.T) {
	m := recordstore.NewMemoryStore()
	// Six days, two stations: twelve reports but still six days.
	seedDays(m, "ST-1", monday, 6, func(time.Time) float64 { return 500 })
	seedDays(m, "ST-2", monday, 6, func(time.Time) float64 { return 700 })

	e := newTestEngine(m, monday.AddDate(0, 0, 7))
	if _, err := e.Generate(context.Background(), Options{}); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestGenerateConstantSales(t *testing.T) {
	m := recordstore.NewMemoryStore()
	seedDays(m, "ST-1", monday, 14, func(time.Time) float64 { return 1000 })
	now := monday.AddDate(0, 0, 14).Add(9 * time.Hour)

	e := newTestEngine(m, now)
	f, err := e.Generate(context.Background(), Options{
		Timeframe:    "30d",
		Stations:     []string{"ALL"},
		ForecastDays: 3,
		Model:        ModelExponentialSmoothing,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(f.Sales) != 3 || len(f.Fuel) != 3 || len(f.Expenses) != 3 || len(f.Profitability) != 3 {
		t.Fatalf("expected 3 points per family, got %d/%d/%d/%d",
			len(f.Sales), len(f.Fuel), len(f.Expenses), len(f.Profitability))
	}
	lastDay := monday.AddDate(0, 0, 13)
	for i, r := range f.Sales {
		if !r.Date.Equal(lastDay.AddDate(0, 0, i+1)) {
			t.Errorf("day %d: dates must continue from the last historical day, got %s", i, r.Date)
		}
		if math.Abs(r.Predicted-1000) > 1e-6 {
			t.Errorf("day %d: expected ~1000 sales, got %.4f", i, r.Predicted)
		}
		if r.Confidence <= 0.7 {
			t.Errorf("day %d: expected confidence > 0.7, got %.4f", i, r.Confidence)
		}
	}

	if got := f.Fuel[0].Volume.Predicted; math.Abs(got-500) > 1e-6 {
		t.Errorf("expected fuel volume ~500, got %.4f", got)
	}
	if got := f.Fuel[0].Revenue.Predicted; math.Abs(got-800) > 1e-6 {
		t.Errorf("expected fuel revenue ~800, got %.4f", got)
	}
	if got := f.Expenses[0].Total.Predicted; math.Abs(got-250) > 1e-6 {
		t.Errorf("expected expenses ~250, got %.4f", got)
	}
	if got := f.Expenses[0].Categories[recordstore.ExpenseSalaries].Predicted; math.Abs(got-200) > 1e-6 {
		t.Errorf("expected salaries ~200, got %.4f", got)
	}
	if got := f.Expenses[0].Categories[recordstore.ExpenseUtilities].Predicted; got != 0 {
		t.Errorf("expected utilities 0, got %.4f", got)
	}
	if got := f.Profitability[0].Profit.Predicted; math.Abs(got-750) > 1e-6 {
		t.Errorf("expected profit ~750, got %.4f", got)
	}
	if got := f.Profitability[0].Margin.Predicted; math.Abs(got-75) > 1e-6 {
		t.Errorf("expected margin ~75%%, got %.4f", got)
	}

	md := f.Metadata
	if md.Model != ModelExponentialSmoothing || md.HistoricalDays != 14 || md.ForecastDays != 3 {
		t.Errorf("unexpected metadata: %+v", md)
	}
	if md.Stations != nil {
		t.Errorf("ALL should clear the station filter, got %v", md.Stations)
	}
	wantConf := (f.Sales[0].Confidence + f.Sales[1].Confidence + f.Sales[2].Confidence) / 3
	if math.Abs(md.Confidence-wantConf) > 1e-9 {
		t.Errorf("expected overall confidence %.4f, got %.4f", wantConf, md.Confidence)
	}
	if !md.GeneratedAt.Equal(now) {
		t.Errorf("expected generated_at %s, got %s", now, md.GeneratedAt)
	}
}

func TestGenerateSeasonalWeekends(t *testing.T) {
	m := recordstore.NewMemoryStore()
	seedDays(m, "ST-1", monday, 21, func(d time.Time) float64 {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			return 2000
		}
		return 1000
	})

	e := newTestEngine(m, monday.AddDate(0, 0, 21))
	f, err := e.Generate(context.Background(), Options{ForecastDays: 7, Model: ModelSeasonal})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i := 1; i < len(f.Sales); i++ {
		prev, cur := f.Sales[i-1], f.Sales[i]
		if cur.Date.Weekday() == time.Saturday && cur.Predicted <= prev.Predicted {
			t.Errorf("Saturday %.2f should exceed Friday %.2f", cur.Predicted, prev.Predicted)
		}
		if prev.Date.Weekday() == time.Sunday && prev.Predicted <= cur.Predicted {
			t.Errorf("Sunday %.2f should exceed Monday %.2f", prev.Predicted, cur.Predicted)
		}
	}
}

func TestGenerateFiltersStations(t *testing.T) {
	m := recordstore.NewMemoryStore()
	seedDays(m, "ST-1", monday, 10, func(time.Time) float64 { return 100 })
	seedDays(m, "ST-2", monday, 10, func(time.Time) float64 { return 300 })

	e := newTestEngine(m, monday.AddDate(0, 0, 10))
	f, err := e.Generate(context.Background(), Options{Stations: []string{"ST-2"}, ForecastDays: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if math.Abs(f.Sales[0].Predicted-300) > 1e-6 {
		t.Errorf("expected ST-2 sales only (~300), got %.4f", f.Sales[0].Predicted)
	}

	f, err = e.Generate(context.Background(), Options{ForecastDays: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if math.Abs(f.Sales[0].Predicted-400) > 1e-6 {
		t.Errorf("expected summed sales (~400), got %.4f", f.Sales[0].Predicted)
	}
}

func TestGenerateIgnoresRecordsOutsideLookback(t *testing.T) {
	m := recordstore.NewMemoryStore()
	old := monday.AddDate(0, 0, -200)
	seedDays(m, "ST-1", old, 30, func(time.Time) float64 { return 100 })
	seedDays(m, "ST-1", monday, 3, func(time.Time) float64 { return 100 })

	e := newTestEngine(m, monday.AddDate(0, 0, 3))
	if _, err := e.Generate(context.Background(), Options{}); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestGenerateStoreFailure(t *testing.T) {
	m := recordstore.NewMemoryStore()
	m.FailWith(errors.New("upstream unavailable"))

	e := newTestEngine(m, monday)
	_, err := e.Generate(context.Background(), Options{})
	if err == nil || errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected a fetch error, got %v", err)
	}
}

func TestNormalizeOptions(t *testing.T) {
	e := newTestEngine(recordstore.NewMemoryStore(), monday)

	opts, err := e.Normalize(Options{Stations: []string{"ST-2", "ST-1"}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if opts.Model != ModelExponentialSmoothing || opts.ForecastDays != DefaultForecastDays {
		t.Errorf("expected defaults, got %+v", opts)
	}
	if opts.Stations[0] != "ST-1" {
		t.Errorf("expected sorted stations, got %v", opts.Stations)
	}

	if _, err := e.Normalize(Options{Model: "arima"}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions for unknown model, got %v", err)
	}
	if _, err := e.Normalize(Options{ForecastDays: MaxForecastDays + 1}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions for long horizon, got %v", err)
	}
	if _, err := e.Normalize(Options{ForecastDays: -1}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions for negative horizon, got %v", err)
	}
}

func TestGenerateSummary(t *testing.T) {
	e := newTestEngine(recordstore.NewMemoryStore(), monday)

	var days []DailyTotals
	for i := 0; i < 14; i++ {
		days = append(days, DailyTotals{
			Date:       monday.AddDate(0, 0, i),
			Sales:      1000 + float64(i)*50,
			Expenses:   400,
			Categories: map[string]float64{recordstore.ExpenseOther: 400},
		})
	}
	f, err := e.FromDays(days, Options{ForecastDays: 7, Model: ModelLinearRegression})
	if err != nil {
		t.Fatalf("FromDays: %v", err)
	}
	s := GenerateSummary(f)
	if s.SalesTrend != TrendIncreasing {
		t.Errorf("expected increasing trend, got %s (%.2f%%)", s.SalesTrend, s.SalesChange)
	}
	if s.ForecastDays != 7 || len(s.Insights) < 3 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.TotalExpenses <= 0 || s.TotalSales <= s.TotalExpenses {
		t.Errorf("unexpected totals: sales %.2f expenses %.2f", s.TotalSales, s.TotalExpenses)
	}

	flat := make([]DailyTotals, 10)
	for i := range flat {
		flat[i] = DailyTotals{Date: monday.AddDate(0, 0, i), Sales: 800, Categories: map[string]float64{}}
	}
	f, err = e.FromDays(flat, Options{ForecastDays: 5})
	if err != nil {
		t.Fatalf("FromDays: %v", err)
	}
	if s := GenerateSummary(f); s.SalesTrend != TrendStable {
		t.Errorf("expected stable trend, got %s", s.SalesTrend)
	}

	if s := GenerateSummary(nil); s.SalesTrend != TrendStable {
		t.Errorf("nil forecast should summarise as stable, got %s", s.SalesTrend)
	}
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		baseline, current float64
		want              string
	}{
		{100, 106, TrendIncreasing},
		{100, 105, TrendStable},
		{100, 95, TrendStable},
		{100, 94, TrendDecreasing},
		{0, 50, TrendStable},
	}
	for _, tt := range tests {
		if _, got := classifyTrend(tt.baseline, tt.current); got != tt.want {
			t.Errorf("classifyTrend(%.0f, %.0f) = %s, want %s", tt.baseline, tt.current, got, tt.want)
		}
	}
}
