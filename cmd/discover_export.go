package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/recommend"
)

var exportHeader = []string{
	"First Name", "Last Name", "Email", "Phone", "Organization",
	"Source", "Status", "Score", "Distance (mi)",
	"Recommended Services", "Top Recommendation", "Recommendation Reason", "Recommendation Score",
}

var discoverExportCmd = &cobra.Command{
	Use:   "export <campaign-id>",
	Short: "Export a campaign's discovered leads to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Store.GetCampaign(ctx, args[0]); err != nil {
			return err
		}
		cls, err := env.Store.ListCampaignLeads(ctx, args[0])
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = args[0] + "-leads.xlsx"
		}
		if err := writeCampaignLeadsXLSX(out, cls); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d leads to %s\n", len(cls), out)
		return nil
	},
}

// writeCampaignLeadsXLSX writes one row per campaign lead, best score first
// as returned by the store.
func writeCampaignLeadsXLSX(path string, cls []discovery.CampaignLead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range exportHeader {
		header.AddCell().SetString(h)
	}

	for _, cl := range cls {
		var contact recommend.Contact
		if cl.Lead != nil {
			contact = cl.Lead.Contact()
		}
		tc := recommend.ContextFromCampaignLead(contact, cl.RecommendedServices, cl.RecommendationReason)

		row := sheet.AddRow()
		for _, v := range []string{
			contact.FirstName, contact.LastName, contact.Email, contact.Phone, contact.Organization,
			string(cl.Source), string(cl.Status),
		} {
			row.AddCell().SetString(v)
		}
		row.AddCell().SetInt(cl.Score)
		row.AddCell().SetFloatWithFormat(cl.Distance, "0.0")
		row.AddCell().SetString(strings.Join(tc.RecommendedServices, ", "))
		row.AddCell().SetString(tc.TopRecommendation)
		row.AddCell().SetString(cl.RecommendationReason)
		recScore := ""
		if cl.RecommendationScore != nil {
			recScore = strconv.Itoa(*cl.RecommendationScore)
		}
		row.AddCell().SetString(recScore)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func init() {
	discoverExportCmd.Flags().String("out", "", "output path (default <campaign-id>-leads.xlsx)")
	discoverCmd.AddCommand(discoverExportCmd)
}
