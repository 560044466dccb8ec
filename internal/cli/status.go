package cli

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	Run: func(cmd *cobra.Command, _ []string) {
		cfg := application.Session.Config()
		cmd.Printf("domain:    %s\n", cfg.Domain)
		cmd.Printf("client_id: %s\n", cfg.ClientID)
		cmd.Printf("state:     %s\n", application.Session.State())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
