package cli

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

var errNotSignedIn = errors.New("not signed in")

var forceRefresh bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token, refreshing it if needed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, ok, err := application.Session.AccessToken(cmd.Context(), forceRefresh)
		if err != nil {
			return err
		}
		if !ok {
			return errNotSignedIn
		}
		cmd.Println(token)
		return nil
	},
}

var userInfoCmd = &cobra.Command{
	Use:   "userinfo",
	Short: "Print the signed-in user's profile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info, err := application.Session.UserInfo(cmd.Context(), forceRefresh)
		if err != nil {
			return err
		}

		var out bytes.Buffer
		if err := json.Indent(&out, info, "", "  "); err != nil {
			cmd.Println(string(info))
			return nil
		}
		cmd.Println(out.String())
		return nil
	},
}

func init() {
	tokenCmd.Flags().BoolVar(&forceRefresh, "force", false, "discard the cached access token first")
	userInfoCmd.Flags().BoolVar(&forceRefresh, "force", false, "bypass the cached profile")
	rootCmd.AddCommand(tokenCmd, userInfoCmd)
}
