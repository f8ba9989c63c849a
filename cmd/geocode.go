package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/pkg/geocode"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode <address>...",
	Short: "Resolve addresses to coordinates",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("geocode"); err != nil {
			return err
		}
		ctx := cmd.Context()
		g := newGeocoder(geocode.NewGate(cfg.Geocode.RatePerSec), nil)

		results, err := g.BatchGeocode(ctx, args, func(done, total int) {
			zap.L().Debug("geocode progress", zap.Int("done", done), zap.Int("total", total))
		})
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out := make(map[string]*geocode.Result, len(args))
			for i, addr := range args {
				out[addr] = results[i]
			}
			return writeJSON(cmd.OutOrStdout(), out)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDRESS\tLATITUDE\tLONGITUDE\tMATCH")
		for i, addr := range args {
			r := results[i]
			if r == nil {
				fmt.Fprintf(tw, "%s\t-\t-\tnot found\n", addr)
				continue
			}
			fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%s\n", addr, r.Latitude, r.Longitude, r.DisplayName)
		}
		return tw.Flush()
	},
}

func init() {
	geocodeCmd.Flags().Bool("json", false, "print results as JSON")
	rootCmd.AddCommand(geocodeCmd)
}
