package commands

import (
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var promosRace string

func init() {
	promosCmd.Flags().StringVar(&promosRace, "race", "", "race id (defaults to the selected race)")
	rootCmd.AddCommand(promosCmd)
}

var promosCmd = &cobra.Command{
	Use:   "promos",
	Short: "Lists the existing promo codes for a race with their remaining usage.",
	Run: func(cmd *cobra.Command, args []string) {
		raceID := resolveRaceIDInt(promosRace)
		promos, err := promoSvc.ListPromos(cmd.Context(), raceID)
		if err != nil {
			fatal(err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Code", "Discount", "Usage left", "URL"})
		for _, p := range promos {
			t.AppendRow(table.Row{p.Code, orDash(p.Discount), orDash(p.UsageLeft), p.ViewURL})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

// orDash renders the scraper's unknown-value sentinel as a dash.
func orDash(n int) string {
	if n < 0 {
		return "-"
	}
	return strconv.Itoa(n)
}
