package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	racesCmd.AddCommand(racesListCmd)
	racesCmd.AddCommand(racesAddCmd)
	racesCmd.AddCommand(racesSelectCmd)
	rootCmd.AddCommand(racesCmd)
}

var racesCmd = &cobra.Command{
	Use:   "races",
	Short: "Manages the list of tracked races.",
}

var racesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists registered and discovered races.",
	Run: func(cmd *cobra.Command, args []string) {
		races, err := watchSvc.ListRaces(cmd.Context())
		if err != nil {
			fatal(err)
		}
		current, _ := watchSvc.Registry().Current()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Title", ""})
		for _, race := range races {
			marker := ""
			if race.ID == current {
				marker = "selected"
			}
			t.AppendRow(table.Row{race.ID, race.Title, marker})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

var racesAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Registers a race from any myrace URL.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ref, added, err := watchSvc.AddRace(cmd.Context(), args[0])
		if err != nil {
			fatal(err)
		}
		if !added {
			fmt.Printf("Race %s is already registered.\n", ref.ID)
			return
		}
		fmt.Printf("Race added: %s (%s)\n", ref.ID, ref.Title)
	},
}

var racesSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Selects the race other commands default to.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := watchSvc.SelectRace(args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("Selected race %s\n", args[0])
	},
}
