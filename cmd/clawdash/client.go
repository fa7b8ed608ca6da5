package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Bldg-7/clawdash/internal/clawctl"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
	format    string
)

func addClientFlags(cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CLAWDASH_SERVER", "http://localhost:3001"), "clawdash API URL")
		cmd.PersistentFlags().StringVar(&authToken, "token", "", "auth token (or set CLAWDASH_AUTH_TOKEN env var)")
		cmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table or json")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() (*clawctl.HTTPClient, error) {
	token := authToken
	if token == "" {
		token = os.Getenv("CLAWDASH_AUTH_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("auth token required (--token or CLAWDASH_AUTH_TOKEN env var)")
	}
	return clawctl.NewHTTPClient(serverURL, token), nil
}

func printJSON(data interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
