package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tracksched",
	Short: "Schedules tracking crawlers, email reports and KPI rollups",
	Long: `tracksched runs the crawler schedules stored in its database.

Commands:
  serve      - run the scheduler, task engine and HTTP API
  validate   - check a config file and exit
  schedules  - list stored schedules
  jobs       - list registered jobs
  sweep      - disable schedules past their disable time
  kpi        - print the request-log KPI report

Examples:
  tracksched serve --config config.yaml
  tracksched kpi --website bct --range Todays`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(kpiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
