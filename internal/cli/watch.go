package cli

import (
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the token fresh and report every change until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		tokens, unsubscribe := application.Session.Subscribe()
		defer unsubscribe()

		if err := application.Start(ctx); err != nil {
			return err
		}
		if addr := application.MetricsAddr(); addr != "" {
			cmd.Printf("metrics on http://%s/metrics\n", addr)
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case token, ok := <-tokens:
				if !ok {
					return nil
				}
				if token == "" {
					cmd.Println("session ended")
					continue
				}
				cmd.Println("access token updated")
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
