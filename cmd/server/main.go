package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opsboard/opsboard-analytics/internal/server"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "opsboard-analytics",
		Short: "Fuel station analytics, forecasting and alerting service",
		Long: `opsboard-analytics computes reporting metrics over the daily report tables,
projects them forward with statistical forecast models and fires threshold
alerts by email, SMS and in-app notification.

  opsboard-analytics serve                      Run the HTTP API and alert scheduler
  opsboard-analytics forecast --days 14         Print a forecast as JSON
  opsboard-analytics thresholds import FILE     Load alert thresholds from YAML
  opsboard-analytics thresholds list            Show configured thresholds`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default /etc/opsboard/analytics.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newForecastCmd(),
		newThresholdsCmd(),
	)

	server.Version = version
	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}
