package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"raceops-backend/lib/scrapers/myrace"
)

var incomeRace string

func init() {
	incomeCmd.Flags().StringVar(&incomeRace, "race", "", "race id (defaults to the selected race)")
	rootCmd.AddCommand(incomeCmd)
}

var incomeCmd = &cobra.Command{
	Use:   "income",
	Short: "Shows a race's current participants, revenue and goal progress.",
	Run: func(cmd *cobra.Command, args []string) {
		raceID := resolveRaceID(incomeRace)
		report, err := watchSvc.Income(cmd.Context(), raceID)
		if err != nil {
			fatal(err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendRow(table.Row{"Race", report.Metrics.Title})
		t.AppendRow(table.Row{"ID", report.Metrics.RaceID})
		t.AppendRow(table.Row{"Participants", report.Metrics.Participants})
		t.AppendRow(table.Row{"Revenue", myrace.FormatMoney(report.Metrics.Revenue) + " ₽"})
		if report.Goal != nil {
			t.AppendRow(table.Row{"Goal", myrace.FormatMoney(*report.Goal) + " ₽"})
			if report.Remaining.IsPositive() {
				t.AppendRow(table.Row{"Remaining", myrace.FormatMoney(*report.Remaining) + " ₽"})
			} else {
				t.AppendRow(table.Row{"Remaining", "goal reached"})
			}
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
