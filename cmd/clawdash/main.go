package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clawdash",
	Short: "Dashboard backend that mirrors remote agent gateways into a local cache",
	Long: `clawdash keeps a local SQLite cache of the sessions, cron jobs, message
history and usage of one or more agent gateways, and serves it over HTTP.

Run "clawdash serve" to start the server. The gateway and sync commands talk
to a running server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, gatewayCmd, syncCmd, sessionsCmd, cronCmd, usageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
