package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover and score leads for a campaign",
	Long:  "Runs the past-client, dormant, similar-organization, and places collectors around a campaign and stores the scored leads.",
}

func init() {
	discoverCmd.PersistentFlags().Bool("json", false, "print results as JSON")
	rootCmd.AddCommand(discoverCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
