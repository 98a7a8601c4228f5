package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsboard/opsboard-analytics/internal/alerting"
	"github.com/opsboard/opsboard-analytics/internal/audit"
	"github.com/opsboard/opsboard-analytics/internal/units"
)

// newThresholdsCmd creates the thresholds command group.
func newThresholdsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Manage alert thresholds",
	}
	cmd.AddCommand(newThresholdsImportCmd(), newThresholdsListCmd())
	return cmd
}

func newThresholdsImportCmd() *cobra.Command {
	var onlyIfEmpty bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create thresholds from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ths, err := alerting.LoadSeedFile(args[0])
			if err != nil {
				return err
			}

			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			n, err := a.alerts.Seed(ctx, ths, onlyIfEmpty)
			if n > 0 {
				_ = a.audit.Log(ctx, audit.NewEvent(audit.EventThresholdsSeeded).
					WithMetadata("path", args[0]).
					WithMetadata("count", n).
					WithDescription(fmt.Sprintf("Imported %d thresholds", n)))
			}
			if err != nil {
				return fmt.Errorf("imported %d of %d thresholds: %w", n, len(ths), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d thresholds\n", n, len(ths))
			return nil
		},
	}
	cmd.Flags().BoolVar(&onlyIfEmpty, "if-empty", false, "only import when no thresholds exist")
	return cmd
}

func newThresholdsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			ths, err := a.alerts.ListThresholds(ctx)
			if err != nil {
				return err
			}
			return printThresholds(cmd.OutOrStdout(), ths)
		},
	}
}

func printThresholds(out io.Writer, ths []alerting.Threshold) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCONDITION\tSEVERITY\tACTIVE\tCHANNELS")
	for _, t := range ths {
		channels := make([]string, len(t.NotificationMethods))
		for i, c := range t.NotificationMethods {
			channels[i] = string(c)
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s %s\t%s\t%t\t%s\n",
			t.ID, t.Name,
			t.Metric, t.Operator, units.Format(t.Metric, t.Threshold),
			t.Severity, t.IsActive, strings.Join(channels, ","),
		)
	}
	return w.Flush()
}
