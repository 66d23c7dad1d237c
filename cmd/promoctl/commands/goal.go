package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"raceops-backend/lib/scrapers/myrace"
)

var goalRace string

func init() {
	goalCmd.PersistentFlags().StringVar(&goalRace, "race", "", "race id (defaults to the selected race)")
	goalCmd.AddCommand(goalSetCmd)
	goalCmd.AddCommand(goalClearCmd)
	rootCmd.AddCommand(goalCmd)
}

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manages revenue goals per race.",
}

var goalSetCmd = &cobra.Command{
	Use:   "set <amount>",
	Short: "Sets the revenue goal for a race.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		amount, err := myrace.ParseMoney(args[0])
		if err != nil {
			fatal(err)
		}
		raceID := resolveRaceID(goalRace)
		if err := watchSvc.SetGoal(raceID, amount); err != nil {
			fatal(err)
		}
		fmt.Printf("Goal for race %s set to %s ₽\n", raceID, myrace.FormatMoney(amount))
	},
}

var goalClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Removes the revenue goal for a race.",
	Run: func(cmd *cobra.Command, args []string) {
		raceID := resolveRaceID(goalRace)
		if err := watchSvc.ClearGoal(raceID); err != nil {
			fatal(err)
		}
		fmt.Printf("Goal for race %s cleared\n", raceID)
	},
}
