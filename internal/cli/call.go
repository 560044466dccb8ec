package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var callMethod string

var callCmd = &cobra.Command{
	Use:   "call <url|path>",
	Short: "Call the API with the session's access token",
	Long: `Send a request with the current access token as a bearer credential.
A path starting with / is resolved against the configured audience.

Examples:
  authctl call https://api.example.com/v1/me
  authctl call /v1/me`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := resolveTarget(application.Session.Config().Audience, args[0])
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(callMethod), target, nil)
		if err != nil {
			return err
		}
		resp, err := application.Session.Client(cmd.Context()).Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		cmd.Println(resp.Status)
		cmd.Println(string(body))
		if resp.StatusCode >= 400 {
			return fmt.Errorf("request failed: %s", resp.Status)
		}
		return nil
	},
}

func resolveTarget(audience, arg string) (string, error) {
	if !strings.HasPrefix(arg, "/") {
		return arg, nil
	}
	base, err := url.Parse(audience)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("audience %q is not a URL; pass an absolute URL", audience)
	}
	return base.ResolveReference(&url.URL{Path: arg}).String(), nil
}

func init() {
	callCmd.Flags().StringVarP(&callMethod, "method", "X", http.MethodGet, "HTTP method")
	rootCmd.AddCommand(callCmd)
}
