package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var discoverClearCmd = &cobra.Command{
	Use:   "clear <campaign-id>",
	Short: "Remove every discovered lead from a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Orchestrator.ClearDiscoveredLeads(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d campaign leads from %s\n", n, args[0])
		return nil
	},
}

func init() {
	discoverCmd.AddCommand(discoverClearCmd)
}
