package main

import (
	"fmt"
	"os"

	"github.com/Bldg-7/clawdash/internal/clawctl"
	"github.com/spf13/cobra"
)

var syncSessionKey string

var syncCmd = &cobra.Command{
	Use:   "sync <gateway-id> [sessions|cron|messages|usage]",
	Short: "Pull fresh data from a gateway into the cache",
	Long: `Without a kind, sessions, cron and usage are synced in turn and every
failure is reported. Messages need --session.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			res, err := clawctl.SyncAll(client, args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				printJSON(res)
			} else {
				w := newTable()
				fmt.Fprintln(w, "KIND\tSYNCED")
				for _, r := range res.Results {
					fmt.Fprintf(w, "%s\t%d\n", r.Kind, r.Synced)
				}
				w.Flush()
			}
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "sync error: %s\n", e)
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d of the syncs failed", len(res.Errors))
			}
			return nil
		}

		res, err := clawctl.Sync(client, args[0], args[1], syncSessionKey)
		if err != nil {
			return err
		}
		if format == "json" {
			printJSON(res)
			return nil
		}
		fmt.Printf("%s: %d records synced\n", res.Kind, res.Synced)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <gateway-id>",
	Short: "List cached sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		sessions, err := clawctl.ListSessions(client, args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			printJSON(sessions)
			return nil
		}
		w := newTable()
		fmt.Fprintln(w, "SESSION_KEY\tKIND\tCHANNEL\tMODEL\tMESSAGES\tLAST_MESSAGE")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.SessionKey, s.Kind, s.Channel, s.Model, s.MessageCount, formatTime(s.LastMessageAt))
		}
		w.Flush()
		return nil
	},
}

var cronCmd = &cobra.Command{
	Use:   "cron <gateway-id>",
	Short: "List cached cron jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		jobs, err := clawctl.ListCron(client, args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			printJSON(jobs)
			return nil
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tENABLED\tSCHEDULE\tNEXT_FIRE\tPAYLOAD")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n", j.ID, j.Name, j.Enabled, j.Schedule.Description, formatTime(j.Schedule.NextFireAt), j.PayloadText)
		}
		w.Flush()
		return nil
	},
}

var (
	usageFrom string
	usageTo   string
)

var usageCmd = &cobra.Command{
	Use:   "usage <gateway-id>",
	Short: "Show cached token usage and cost per model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		summary, err := clawctl.GetUsageSummary(client, args[0], usageFrom, usageTo)
		if err != nil {
			return err
		}
		if format == "json" {
			printJSON(summary)
			return nil
		}
		fmt.Printf("Usage %s .. %s\n", summary.From, summary.To)
		w := newTable()
		fmt.Fprintln(w, "MODEL\tDAYS\tINPUT\tOUTPUT\tCOST_USD")
		for _, m := range summary.Models {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.4f\n", m.Model, m.Days, m.InputTokens, m.OutputTokens, m.CostUSD)
		}
		fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%.4f\n", summary.InputTokens, summary.OutputTokens, summary.CostUSD)
		w.Flush()
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncSessionKey, "session", "", "session key for a messages sync")
	usageCmd.Flags().StringVar(&usageFrom, "from", "", "first day, YYYY-MM-DD")
	usageCmd.Flags().StringVar(&usageTo, "to", "", "last day, YYYY-MM-DD")
	addClientFlags(syncCmd, sessionsCmd, cronCmd, usageCmd)
}
