package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/recommend"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage recommendation rules",
}

var rulesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the default or file-provided rules, skipping existing names",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "rules")
		if err != nil {
			return err
		}
		defer env.Close()

		rules, err := seedRules(cmd)
		if err != nil {
			return err
		}
		clearFirst, _ := cmd.Flags().GetBool("clear")

		res, err := recommend.Seed(ctx, env.Store, rules, clearFirst)
		if err != nil {
			return err
		}
		env.Engine.ClearCache()

		fmt.Fprintf(cmd.OutOrStdout(), "Created %d rules, skipped %d existing", res.Created, res.Skipped)
		if clearFirst {
			fmt.Fprintf(cmd.OutOrStdout(), ", cleared %d", res.Cleared)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

// seedRules returns rules from --file, the configured seed file, or the
// built-in defaults, in that order.
func seedRules(cmd *cobra.Command) ([]recommend.Rule, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		path = cfg.Rules.SeedFile
	}
	if path == "" {
		return recommend.DefaultRules(), nil
	}
	return recommend.LoadRulesFile(path)
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "rules")
		if err != nil {
			return err
		}
		defer env.Close()

		rules, err := env.Engine.Rules(ctx)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"rules":   rules,
				"summary": recommend.Summarize(rules),
			})
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tTRIGGER\tRECOMMENDS\tWEIGHT\tPRIORITY")
		for _, r := range rules {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%d\n",
				r.Name, ruleTrigger(r), recommend.FormatServiceType(r.RecommendedService), r.Weight, r.Priority)
		}
		s := recommend.Summarize(rules)
		fmt.Fprintf(tw, "\n%d rules (%d service, %d organization; %d high, %d medium, %d low priority)\n",
			s.Total, s.ServiceToService, s.OrgBased, s.ByPriority.High, s.ByPriority.Medium, s.ByPriority.Low)
		return tw.Flush()
	},
}

func ruleTrigger(r recommend.Rule) string {
	if r.TriggerServiceType != nil {
		return recommend.FormatServiceType(*r.TriggerServiceType)
	}
	types := make([]string, len(r.OrgTypes))
	for i, t := range r.OrgTypes {
		types[i] = string(t)
	}
	return strings.Join(types, ",")
}

func init() {
	rulesSeedCmd.Flags().String("file", "", "YAML rules file (default: built-in rules)")
	rulesSeedCmd.Flags().Bool("clear", false, "delete every existing rule first")
	rulesListCmd.Flags().Bool("json", false, "print rules as JSON")
	rulesCmd.AddCommand(rulesSeedCmd, rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}
