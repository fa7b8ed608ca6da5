package main

import (
	"fmt"

	"github.com/Bldg-7/clawdash/internal/clawctl"
	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Manage registered gateways",
}

var gatewayListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gateways and their health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		gateways, err := clawctl.ListGateways(client)
		if err != nil {
			return err
		}
		if format == "json" {
			printJSON(gateways)
			return nil
		}
		printGatewaysTable(gateways)
		return nil
	},
}

var gatewayAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Register a gateway",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("gateway-token")
		if token == "" {
			return fmt.Errorf("--gateway-token is required")
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		gw, err := clawctl.AddGateway(client, args[0], args[1], token)
		if err != nil {
			return err
		}
		if format == "json" {
			printJSON(gw)
			return nil
		}
		fmt.Printf("Gateway %s registered as %s\n", gw.Name, gw.ID)
		return nil
	},
}

var gatewayRemoveCmd = &cobra.Command{
	Use:     "rm <gateway-id>",
	Aliases: []string{"remove"},
	Short:   "Remove a gateway and everything cached for it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := clawctl.RemoveGateway(client, args[0]); err != nil {
			return err
		}
		fmt.Printf("Gateway %s removed\n", args[0])
		return nil
	},
}

var gatewaySetCmd = &cobra.Command{
	Use:   "set <gateway-id>",
	Short: "Change name, url, token or status of a gateway",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch clawctl.GatewayPatch
		for flag, dst := range map[string]**string{
			"name":          &patch.Name,
			"url":           &patch.URL,
			"gateway-token": &patch.Token,
			"status":        &patch.Status,
		} {
			if cmd.Flags().Changed(flag) {
				v, _ := cmd.Flags().GetString(flag)
				*dst = &v
			}
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		gw, err := clawctl.UpdateGateway(client, args[0], patch)
		if err != nil {
			return err
		}
		if format == "json" {
			printJSON(gw)
			return nil
		}
		printGatewaysTable([]clawctl.GatewayJSON{*gw})
		return nil
	},
}

func init() {
	gatewayAddCmd.Flags().String("gateway-token", "", "bearer token the gateway expects")
	gatewaySetCmd.Flags().String("name", "", "display name")
	gatewaySetCmd.Flags().String("url", "", "base URL")
	gatewaySetCmd.Flags().String("gateway-token", "", "bearer token the gateway expects")
	gatewaySetCmd.Flags().String("status", "", "status override (unknown, online, offline, error)")

	gatewayCmd.AddCommand(gatewayListCmd, gatewayAddCmd, gatewayRemoveCmd, gatewaySetCmd)
	addClientFlags(gatewayCmd)
}

func printGatewaysTable(gateways []clawctl.GatewayJSON) {
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tURL\tSTATUS\tVERSION\tLAST_SEEN")
	for _, gw := range gateways {
		version := gw.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", gw.ID, gw.Name, gw.URL, gw.Status, version, formatTime(gw.LastSeenAt))
	}
	w.Flush()
}
