package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/store"
	"github.com/nhle/coursedesk/internal/ui/login"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		token  string
		apiURL string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an access token",
		Long: "Validate an access token and store it in the system keyring. Without " +
			"--token an interactive form asks for it. --api-url points every later " +
			"command at another backend; pass an empty value to go back to the configured one.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts, logger.Discard())
			if err != nil {
				return err
			}
			defer e.Close()

			urlChanged := cmd.Flags().Changed("api-url")
			if token == "" {
				v := &login.Values{APIURL: apiURL}
				if !urlChanged {
					v.APIURL = e.apiURL
				}
				if err := login.NewForm(v, true).Run(); err != nil {
					return fmt.Errorf("login form: %w", err)
				}
				token = v.Token
				if v.APIURL != e.apiURL {
					apiURL = v.APIURL
					urlChanged = true
				}
			}

			token = strings.TrimSpace(token)
			if err := login.ValidateToken(token); err != nil {
				return err
			}
			apiURL = strings.TrimSpace(apiURL)
			if urlChanged {
				if err := login.ValidateURL(apiURL); err != nil {
					return err
				}
			}

			id, err := e.session.Login(token)
			if err != nil {
				return err
			}
			if err := store.SwitchUser(ctx, e.store, id.UserID); err != nil {
				return err
			}
			if urlChanged {
				if err := e.session.SetAPIURLOverride(ctx, apiURL); err != nil {
					return fmt.Errorf("saving API URL: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Signed in as %s (%s)\n", id.UserID, id.Role)
			switch {
			case urlChanged && apiURL != "":
				fmt.Fprintf(out, "Using backend %s\n", apiURL)
			case urlChanged:
				fmt.Fprintf(out, "Using backend %s\n", e.cfg.API.BaseURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "access token (prompted for when empty)")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "REST root to use instead of the configured one")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts, logger.Discard())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.session.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}
