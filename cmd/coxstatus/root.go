package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coxstatus",
	Short: "coxstatus - Internet data usage poller",
	Long: `coxstatus logs into the ISP account portal, collects the current data
usage and billing cycle summary, and publishes them as metrics to InfluxDB
and/or a Prometheus exporter.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to run command when no subcommand is provided
		return runDaemon(cmd, args)
	},
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to configuration file (optional)")
	flags.StringP("username", "u", "", "Portal username")
	flags.StringP("password", "p", "", "Portal password")
	flags.String("influxdb", "", "InfluxDB URL")
	flags.String("token", "", "InfluxDB API token")
	flags.String("org", "", "InfluxDB organization")
	flags.String("bucket", "", "InfluxDB bucket")
	flags.String("session-file", "", "Path of the persisted session")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
