package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"tracksched/internal/app"
	"tracksched/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok:", cfgPath)
		return nil
	},
}

var schedulesFilter string

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List stored schedules (filter: all, tracing, report or a category)",
	RunE: withApp(func(cmd *cobra.Command, a *app.App) (any, error) {
		return a.Ops().ListSchedules(cmd.Context(), schedulesFilter)
	}),
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List registered jobs",
	RunE: withApp(func(_ *cobra.Command, a *app.App) (any, error) {
		return a.Ops().Jobs(), nil
	}),
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Disable schedules whose disable time has passed",
	RunE: withApp(func(cmd *cobra.Command, a *app.App) (any, error) {
		return a.Ops().Sweep(cmd.Context())
	}),
}

var (
	kpiWebsite string
	kpiRange   string
)

var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Print the KPI report for a website and date range",
	RunE: withApp(func(cmd *cobra.Command, a *app.App) (any, error) {
		return a.Ops().ComputeKPI(cmd.Context(), kpiWebsite, kpiRange)
	}),
}

func init() {
	schedulesCmd.Flags().StringVar(&schedulesFilter, "filter", "all", "all, tracing, report, or a category")
	kpiCmd.Flags().StringVar(&kpiWebsite, "website", "", "website to report on (default all)")
	kpiCmd.Flags().StringVar(&kpiRange, "range", "all", "all, Todays, \"Past 7 days\", \"This month\", \"This year\"")
}

// withApp builds the app without starting it, runs fn and prints its
// result as JSON.
func withApp(fn func(*cobra.Command, *app.App) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := fn(cmd, a)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}
