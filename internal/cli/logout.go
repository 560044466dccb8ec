package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"auth0session-go/internal/session"
)

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Aliases: []string{"disconnect"},
	Short:   "Remove local tokens and end the provider session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		err := application.Session.LogOut(cmd.Context())
		if err != nil && errors.Is(err, session.ErrRemoteLogout) {
			cmd.PrintErrf("Local session cleared; %v\n", err)
			return nil
		}
		if err != nil {
			return err
		}
		cmd.Println("Logged out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
