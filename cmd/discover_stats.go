package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/discovery"
)

var discoverStatsCmd = &cobra.Command{
	Use:   "stats <campaign-id>",
	Short: "Summarize a campaign's discovered leads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Orchestrator.GetDiscoveryStats(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		return printStats(cmd.OutOrStdout(), st)
	},
}

func printStats(w io.Writer, st *discovery.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Campaign:\t%s\n", st.CampaignID)
	fmt.Fprintf(tw, "Total:\t%d\n", st.Total)
	fmt.Fprintf(tw, "Avg score:\t%.1f\n", st.AvgScore)
	fmt.Fprintf(tw, "Min / median / max:\t%d / %d / %d\n", st.ScoreStats.Min, st.ScoreStats.Median, st.ScoreStats.Max)
	fmt.Fprintf(tw, "Excellent / good / fair / poor:\t%d / %d / %d / %d\n",
		st.ScoreStats.Excellent, st.ScoreStats.Good, st.ScoreStats.Fair, st.ScoreStats.Poor)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "SOURCE\tLEADS")
	for _, s := range discovery.Sources {
		fmt.Fprintf(tw, "%s\t%d\n", s, st.BySource[s])
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "STATUS\tLEADS")
	for _, s := range discovery.CampaignLeadStatuses {
		fmt.Fprintf(tw, "%s\t%d\n", s, st.ByStatus[s])
	}
	return tw.Flush()
}

func init() {
	discoverCmd.AddCommand(discoverStatsCmd)
}
