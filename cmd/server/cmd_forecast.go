package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsboard/opsboard-analytics/internal/analytics/forecasting"
	"github.com/opsboard/opsboard-analytics/internal/units"
)

// newForecastCmd creates the forecast subcommand.
func newForecastCmd() *cobra.Command {
	var (
		days      int
		model     string
		timeframe string
		stations  []string
		summary   bool
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project sales, fuel, expenses and profit forward",
		Long: `Generate a forecast from the record store and print it as JSON. With
--summary a condensed table of totals, trend and insights is printed instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			opts := forecasting.Options{
				Timeframe:    timeframe,
				Stations:     stations,
				ForecastDays: days,
				Model:        forecasting.Model(model),
			}
			start := time.Now()
			f, err := a.analytics.Forecast(ctx, opts)
			if err != nil {
				return err
			}
			_ = a.audit.LogForecastGenerated(ctx, string(f.Metadata.Model), len(f.Sales), time.Since(start))

			if summary {
				return printSummary(cmd.OutOrStdout(), forecasting.GenerateSummary(f))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(f)
		},
	}

	cmd.Flags().IntVar(&days, "days", forecasting.DefaultForecastDays, "number of days to forecast")
	cmd.Flags().StringVar(&model, "model", "", "forecast model (linear_regression, moving_average, exponential_smoothing, seasonal)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "30d", "timeframe label for the request")
	cmd.Flags().StringSliceVar(&stations, "stations", nil, "restrict to these station IDs")
	cmd.Flags().BoolVar(&summary, "summary", false, "print a summary table instead of JSON")
	return cmd
}

func printSummary(out io.Writer, s forecasting.Summary) error {
	if out == nil {
		out = os.Stdout
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Model:\t%s\n", s.Model)
	fmt.Fprintf(w, "Horizon:\t%d days\n", s.ForecastDays)
	fmt.Fprintf(w, "Total sales:\t%s\n", units.Currency(s.TotalSales))
	fmt.Fprintf(w, "Average daily sales:\t%s\n", units.Currency(s.AverageDailySales))
	fmt.Fprintf(w, "Fuel volume:\t%s L\n", units.Number(s.TotalFuelVolume))
	fmt.Fprintf(w, "Fuel revenue:\t%s\n", units.Currency(s.TotalFuelRevenue))
	fmt.Fprintf(w, "Expenses:\t%s\n", units.Currency(s.TotalExpenses))
	fmt.Fprintf(w, "Profit:\t%s\n", units.Currency(s.TotalProfit))
	fmt.Fprintf(w, "Average margin:\t%s\n", units.Percent(s.AverageMargin))
	fmt.Fprintf(w, "Sales trend:\t%s (%s)\n", s.SalesTrend, units.Percent(s.SalesChange))
	fmt.Fprintf(w, "Confidence:\t%s\n", units.Percent(s.AverageConfidence*100))
	if err := w.Flush(); err != nil {
		return err
	}
	for _, insight := range s.Insights {
		fmt.Fprintf(out, "  - %s\n", insight)
	}
	return nil
}
