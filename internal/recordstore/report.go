package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Table and field names of the daily report table.
const (
	DailyReportsTable = "daily_reports"

	FieldID          = "id"
	FieldDate        = "report_date"
	FieldStation     = "station_id"
	FieldTotalSales  = "total_sales"
	FieldFuelVolume  = "fuel_volume"
	FieldFuelRevenue = "fuel_revenue"
	FieldExpenses    = "expenses"
)

// Expense categories. Unknown categories are folded into ExpenseOther.
const (
	ExpenseSalaries    = "salaries"
	ExpenseUtilities   = "utilities"
	ExpenseMaintenance = "maintenance"
	ExpenseOther       = "other"
)

// ExpenseCategories lists the categories in display order.
var ExpenseCategories = []string{ExpenseSalaries, ExpenseUtilities, ExpenseMaintenance, ExpenseOther}

// ExpenseItem is one entry of the expense breakdown.
type ExpenseItem struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// Breakdown is either a list of expense items or absent. Callers must go
// through Items and handle both cases.
type Breakdown struct {
	items   []ExpenseItem
	present bool
}

// NewBreakdown builds a present breakdown.
func NewBreakdown(items []ExpenseItem) Breakdown {
	return Breakdown{items: items, present: true}
}

// NoBreakdown is the absent case.
var NoBreakdown = Breakdown{}

// Items returns the expense items and whether the report carried a breakdown.
func (b Breakdown) Items() ([]ExpenseItem, bool) {
	return b.items, b.present
}

// Total sums the item amounts. An absent breakdown totals zero.
func (b Breakdown) Total() float64 {
	var sum float64
	for _, it := range b.items {
		sum += it.Amount
	}
	return sum
}

// ByCategory sums amounts per known category.
func (b Breakdown) ByCategory() map[string]float64 {
	out := make(map[string]float64, len(ExpenseCategories))
	for _, c := range ExpenseCategories {
		out[c] = 0
	}
	for _, it := range b.items {
		out[normalizeCategory(it.Category)] += it.Amount
	}
	return out
}

func normalizeCategory(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case ExpenseSalaries, "salary", "wages":
		return ExpenseSalaries
	case ExpenseUtilities, "utility", "electricity", "water":
		return ExpenseUtilities
	case ExpenseMaintenance, "repairs", "repair":
		return ExpenseMaintenance
	default:
		return ExpenseOther
	}
}

// DailyReport is the typed form of a daily_reports row.
type DailyReport struct {
	Date        time.Time `json:"date"`
	StationID   string    `json:"station_id"`
	TotalSales  float64   `json:"total_sales"`
	FuelVolume  float64   `json:"fuel_volume"`
	FuelRevenue float64   `json:"fuel_revenue"`
	Expenses    Breakdown `json:"-"`

	// BreakdownInvalid is set when the expenses field was present but not
	// valid JSON. Such reports carry NoBreakdown.
	BreakdownInvalid bool `json:"-"`
}

// Day returns the calendar day of the report in UTC.
func (r DailyReport) Day() time.Time {
	y, m, d := r.Date.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ExpenseTotal is the sum of the breakdown, zero when absent.
func (r DailyReport) ExpenseTotal() float64 {
	return r.Expenses.Total()
}

// Profit is sales less expenses.
func (r DailyReport) Profit() float64 {
	return r.TotalSales - r.ExpenseTotal()
}

// DecodeDailyReport converts a raw record. A missing or unparseable date or
// a non-numeric amount yields ErrParse. A malformed expense breakdown does
// not fail the record.
func DecodeDailyReport(rec Record) (DailyReport, error) {
	var r DailyReport

	date, err := parseDate(rec[FieldDate])
	if err != nil {
		return r, fmt.Errorf("%w: %s: %v", ErrParse, FieldDate, err)
	}
	r.Date = date

	if s, ok := rec[FieldStation].(string); ok {
		r.StationID = s
	} else if rec[FieldStation] != nil {
		r.StationID = fmt.Sprint(rec[FieldStation])
	}

	for field, dst := range map[string]*float64{
		FieldTotalSales:  &r.TotalSales,
		FieldFuelVolume:  &r.FuelVolume,
		FieldFuelRevenue: &r.FuelRevenue,
	} {
		v, err := toFloat(rec[field])
		if err != nil {
			return r, fmt.Errorf("%w: %s: %v", ErrParse, field, err)
		}
		*dst = v
	}

	r.Expenses, r.BreakdownInvalid = decodeBreakdown(rec[FieldExpenses])
	return r, nil
}

// decodeBreakdown accepts a JSON string, raw bytes or an already decoded
// array. The second result reports a malformed value.
func decodeBreakdown(v any) (Breakdown, bool) {
	var raw []byte
	switch x := v.(type) {
	case nil:
		return NoBreakdown, false
	case string:
		if strings.TrimSpace(x) == "" {
			return NoBreakdown, false
		}
		raw = []byte(x)
	case []byte:
		raw = x
	case json.RawMessage:
		raw = x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return NoBreakdown, true
		}
		raw = b
	}

	var items []struct {
		Category string `json:"category"`
		Amount   any    `json:"amount"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return NoBreakdown, true
	}
	out := make([]ExpenseItem, 0, len(items))
	for _, it := range items {
		amt, err := toFloat(it.Amount)
		if err != nil {
			continue
		}
		out = append(out, ExpenseItem{Category: it.Category, Amount: amt})
	}
	return NewBreakdown(out), false
}

func parseDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date %q", x)
	case nil:
		return time.Time{}, fmt.Errorf("missing")
	default:
		return time.Time{}, fmt.Errorf("unexpected type %T", v)
	}
}

// toFloat treats a missing value as zero.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		if strings.TrimSpace(x) == "" {
			return 0, nil
		}
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// ─── Fetching ─────────────────────────────────────────────────────────────────

// DefaultPageSize is the page size used by FetchDailyReports.
const DefaultPageSize = 200

// maxPages bounds paging against a store that misreports its total.
const maxPages = 500

// ReportFilter selects daily reports by date range and station set.
type ReportFilter struct {
	From     time.Time
	To       time.Time
	Stations []string
}

// AllStations reports whether the station set means "no station filter".
func AllStations(stations []string) bool {
	if len(stations) == 0 {
		return true
	}
	for _, s := range stations {
		if strings.EqualFold(s, "ALL") {
			return true
		}
	}
	return false
}

// Filters converts the report filter to store filters.
func (f ReportFilter) Filters() []Filter {
	filters := []Filter{
		{Name: FieldDate, Op: OpGte, Value: f.From.UTC().Format("2006-01-02")},
		{Name: FieldDate, Op: OpLt, Value: f.To.UTC().AddDate(0, 0, 1).Format("2006-01-02")},
	}
	if !AllStations(f.Stations) {
		filters = append(filters, Filter{Name: FieldStation, Op: OpIn, Value: f.Stations})
	}
	return filters
}

// FetchDailyReports pages through the daily report table. Records that fail
// to decode are skipped and logged.
func FetchDailyReports(ctx context.Context, store Store, filter ReportFilter, logger *zap.Logger) ([]DailyReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var out []DailyReport
	skipped := 0
	seen := 0
	for page := 1; page <= maxPages; page++ {
		res, err := store.Query(ctx, DailyReportsTable, Query{
			Page:     page,
			PageSize: DefaultPageSize,
			OrderBy:  FieldDate,
			Filters:  filter.Filters(),
		})
		if err != nil {
			return nil, fmt.Errorf("query %s page %d: %w", DailyReportsTable, page, err)
		}
		for _, rec := range res.List {
			r, err := DecodeDailyReport(rec)
			if err != nil {
				skipped++
				continue
			}
			if r.BreakdownInvalid {
				logger.Debug("malformed expense breakdown treated as absent",
					zap.String("station", r.StationID), zap.Time("date", r.Date))
			}
			out = append(out, r)
		}
		seen += len(res.List)
		if len(res.List) < DefaultPageSize || (res.Total > 0 && seen >= res.Total) {
			break
		}
	}
	if skipped > 0 {
		logger.Warn("skipped undecodable daily reports", zap.Int("skipped", skipped))
	}
	return out, nil
}
