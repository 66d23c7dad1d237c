package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var typesRace string

func init() {
	typesCmd.Flags().StringVar(&typesRace, "race", "", "race id (defaults to the selected race)")
	rootCmd.AddCommand(typesCmd)
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Lists the coupon types the site offers for a race.",
	Run: func(cmd *cobra.Command, args []string) {
		raceID := resolveRaceIDInt(typesRace)
		types, err := promoSvc.ListCouponTypes(cmd.Context(), raceID)
		if err != nil {
			fatal(err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Type", "Slug", "Href"})
		for _, ct := range types {
			t.AppendRow(table.Row{ct.DisplayName, ct.Slug, ct.Href})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
