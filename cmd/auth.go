package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/google"
)

func newAuthCmd() *cobra.Command {
	var (
		tokenFile string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to your Google Calendar",
		Long: `Run the Google OAuth consent flow and store the resulting token.

Open the printed URL in a browser and approve access; the browser is redirected
to a temporary local listener that completes the flow. The token is written to
the token file (default token.json) and refreshed automatically afterwards.

The OAuth client comes from GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET or the
credentials file (default credentials.json).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("token-file") {
				cfg.Google.TokenFile = tokenFile
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
			defer cancelTimeout()

			return runAuth(ctx, cmd, cfg.Google)
		},
	}

	cmd.Flags().StringVar(&tokenFile, "token-file", google.DefaultTokenFile, "Where to store the token. Can also use GOOGLE_TOKEN_FILE env var.")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the browser consent")

	return cmd
}

func runAuth(ctx context.Context, cmd *cobra.Command, g GoogleConfig) error {
	out := cmd.OutOrStdout()

	config, err := google.OAuthConfig(g.ClientID, g.ClientSecret, g.CredentialsFile)
	if err != nil {
		return err
	}

	token, err := google.AuthorizeInstalledApp(ctx, config, func(url string) {
		fmt.Fprintf(out, "Open the following link in your browser to authorize calagent:\n\n%s\n\nWaiting for authorization...\n", url)
	})
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	provider := google.NewFileTokenProvider(g.TokenFile)
	if err := provider.SaveToken(token); err != nil {
		return err
	}

	fmt.Fprintf(out, "Token saved to %s\n", provider.Path())
	if os.Getenv(google.EnvTokenJSON) != "" {
		fmt.Fprintf(out, "Note: %s is set and takes precedence over the token file.\n", google.EnvTokenJSON)
	}
	return nil
}
