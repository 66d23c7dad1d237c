package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"raceops-backend/lib/scrapers/myrace"
)

var loginFlags struct {
	email       string
	password    string
	otp         string
	credentials string
	noReuse     bool
	noSave      bool
}

func init() {
	loginCmd.Flags().StringVar(&loginFlags.email, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginFlags.password, "password", "", "account password (prompted when omitted)")
	loginCmd.Flags().StringVar(&loginFlags.otp, "otp", "", "one-time confirmation code (prompted when omitted)")
	loginCmd.Flags().StringVar(&loginFlags.credentials, "credentials", "", "JSON credentials file")
	loginCmd.Flags().BoolVar(&loginFlags.noReuse, "no-reuse", false, "always run a fresh login even when cookies work")
	loginCmd.Flags().BoolVar(&loginFlags.noSave, "no-save", false, "do not persist cookies after login")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Establishes a session and persists its cookies.",
	Run: func(cmd *cobra.Command, args []string) {
		creds, err := myrace.ResolveCredentials(myrace.Credentials{
			Email:    loginFlags.email,
			Password: loginFlags.password,
			Otp:      loginFlags.otp,
		}, loginFlags.credentials)
		if err != nil {
			fatal(err)
		}
		if creds.Email == "" {
			creds.Email, err = myrace.TerminalPrompter{}.Prompt("Email")
			if err != nil {
				fatal(err)
			}
		}

		session, err := promoSvc.Login(cmd.Context(), creds, myrace.AuthOptions{
			Reuse: !loginFlags.noReuse,
			Save:  !loginFlags.noSave,
		})
		if errors.Is(err, myrace.ErrEmailLinkSent) {
			fmt.Println(err.Error())
			return
		}
		if err != nil {
			fatal(err)
		}

		if session.Reused {
			fmt.Printf("Existing session for %s still works, cookies at %s\n",
				session.Email, client.CookieStore().Path())
			return
		}
		fmt.Printf("Logged in as %s, cookies saved to %s\n",
			session.Email, client.CookieStore().Path())
	},
}
