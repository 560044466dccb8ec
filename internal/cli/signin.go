package cli

import (
	"github.com/spf13/cobra"
)

var loginHint string

var signInCmd = &cobra.Command{
	Use:     "signin",
	Aliases: []string{"connect"},
	Short:   "Sign in through the browser",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		if err := application.Session.SignIn(ctx, loginHint); err != nil {
			return err
		}
		cmd.Println("Signed in.")
		return nil
	},
}

var signUpCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account through the browser",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		if err := application.Session.SignUp(ctx, loginHint); err != nil {
			return err
		}
		cmd.Println("Signed up.")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{signInCmd, signUpCmd} {
		c.Flags().StringVar(&loginHint, "hint", "", "email to prefill on the provider page")
		rootCmd.AddCommand(c)
	}
}
