// Package cli implements the authctl command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"auth0session-go/internal/app"
	"auth0session-go/internal/config"
	"auth0session-go/internal/logging"
)

var (
	configPath string
	envFile    string
	verbose    bool

	// application is built before each command runs and stopped after.
	application *app.Application
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Sign in to Auth0 and manage the local session",
	Long: `authctl drives an Auth0 Authorization Code + PKCE sign-in in the system
browser and keeps the resulting tokens in an encrypted local store.

Examples:
  authctl signin --hint user@example.com
  authctl token
  authctl userinfo --force
  authctl logout`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger := logrus.StandardLogger()
		if err := logging.Setup(logger, level, cfg.Logging.File); err != nil {
			return err
		}

		application, err = app.New(cfg, logger)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		return stopApplication(cmd.Context())
	},
}

func stopApplication(ctx context.Context) error {
	if application == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := application.Stop(ctx)
	application = nil
	_ = logging.Close()
	return err
}

// signalContext is canceled on interrupt so a pending browser wait ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_ = stopApplication(context.Background())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (.json or .yaml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
