package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/cloudctl/pkg/auth"
	"github.com/telekom/cloudctl/pkg/output"
	"github.com/telekom/cloudctl/pkg/system"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the cloud platform",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthLogoutCommand(),
		newAuthTokenCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.flushMetrics()
			authenticator, err := rt.Authenticator()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			errOut := rt.ErrWriter()
			manual := rt.NoBrowser()
			result, err := authenticator.Login(ctx, auth.LoginOptions{
				OnStatus: func(e auth.StatusEvent) {
					switch e.Status {
					case auth.StatusOpeningBrowser:
						if !manual {
							_, _ = fmt.Fprintf(errOut, "Opening browser to log in. If it does not open, visit:\n%s\n", e.AuthorizationURL)
						}
					case auth.StatusWaitingForAuthentication:
						_, _ = fmt.Fprintln(errOut, "Waiting for authentication...")
					case auth.StatusExchangingTokens:
						rt.Logger().Debug("Exchanging authorization code")
					}
				},
			})
			if err != nil {
				return err
			}

			who := result.Session.User.Email
			if who == "" {
				who = result.Session.User.Name
			}
			expires := result.Session.Metadata.ExpiresAt.UTC().Format(time.RFC3339)
			if who != "" {
				_, _ = fmt.Fprintf(rt.Writer(), "Logged in as %s. Session expires at %s\n", who, expires)
			} else {
				_, _ = fmt.Fprintf(rt.Writer(), "Logged in. Session expires at %s\n", expires)
			}
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			authenticator, err := rt.Authenticator()
			if err != nil {
				return err
			}
			status, err := authenticator.Status()
			if err != nil {
				return err
			}
			return output.WriteObject(rt.Writer(), format, output.StatusView{SessionStatus: status, Now: time.Now()})
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			authenticator, err := rt.Authenticator()
			if err != nil {
				return err
			}
			if err := authenticator.Logout(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}

func newAuthTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing it if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.flushMetrics()
			authenticator, err := rt.Authenticator()
			if err != nil {
				return err
			}
			token, err := authenticator.AccessToken(cmd.Context())
			if err != nil {
				return err
			}
			rt.Logger().Debugw("Access token ready", "token", system.RedactToken(token))
			_, _ = fmt.Fprintln(rt.Writer(), token)
			return nil
		},
	}
}
