package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(setcookiesCmd)
}

var setcookiesCmd = &cobra.Command{
	Use:   "setcookies [file]",
	Short: "Imports a browser-exported Netscape cookie file as the session.",
	Long: "Replaces the persisted session with cookies exported from a logged-in " +
		"browser. Reads the given file, or stdin when no file is given.",
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var raw []byte
		var err error
		if len(args) == 1 {
			raw, err = os.ReadFile(args[0])
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fatal(err)
		}

		count, err := promoSvc.ImportCookies(string(raw))
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Imported %d cookies to %s\n", count, client.CookieStore().Path())
	},
}
