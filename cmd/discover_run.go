package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/discovery"
)

var discoverRunCmd = &cobra.Command{
	Use:   "run <campaign-id>",
	Short: "Run discovery for a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, cancel := withRunTimeout(ctx)
		defer cancel()

		res, err := env.Orchestrator.Discover(ctx, args[0])
		if err != nil {
			return err
		}

		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			for email, sources := range res.Duplicates {
				zap.L().Info("duplicate across sources",
					zap.String("email", email),
					zap.Any("sources", sources),
				)
			}
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		return printRunResult(cmd.OutOrStdout(), res)
	},
}

func printRunResult(w io.Writer, res *discovery.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Campaign:\t%s\n", res.CampaignID)
	fmt.Fprintf(tw, "Candidates:\t%d (%d duplicates removed, %.1f%%)\n",
		res.Total, res.Deduplication.DuplicatesRemoved, res.Deduplication.Rate)
	fmt.Fprintf(tw, "Inserted:\t%d\n", res.Inserted)
	fmt.Fprintf(tw, "Skipped:\t%d\n", res.Skipped)
	fmt.Fprintf(tw, "Avg score:\t%.1f\n", res.AvgScore)
	fmt.Fprintf(tw, "Duration:\t%s\n", res.Duration)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SOURCE\tFOUND")
	for _, s := range discovery.Sources {
		fmt.Fprintf(tw, "%s\t%d\n", s, res.BySource[s])
	}
	return tw.Flush()
}

func init() {
	discoverRunCmd.Flags().Bool("verbose", false, "log leads found by more than one source")
	discoverCmd.AddCommand(discoverRunCmd)
}
