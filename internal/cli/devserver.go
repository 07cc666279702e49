package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/nhle/coursedesk/internal/devserver"
	"github.com/nhle/coursedesk/internal/logger"
)

const defaultDevSecret = "coursedesk-dev-secret"

func newDevServerCmd() *cobra.Command {
	var (
		addr     string
		secret   string
		tokenTTL time.Duration
		noSeed   bool
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve a local backend with seeded data",
		Long: "Run an in-memory marketplace backend with the REST endpoints and the " +
			"realtime socket the dashboard uses. Demo tokens for an instructor and an " +
			"admin are printed on startup.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gin.SetMode(gin.ReleaseMode)
			srv := devserver.New(devserver.Config{
				Secret:   devSecret(secret),
				TokenTTL: tokenTTL,
				Seed:     !noSeed,
			}, logger.New())

			out := cmd.OutOrStdout()
			for _, u := range []struct{ id, role string }{{"instructor-1", "instructor"}, {"admin-1", "admin"}} {
				token, err := srv.Tokens().GenerateToken(u.id, u.role)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-10s %s\n", u.role, token)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":3000", "listen address")
	cmd.Flags().StringVar(&secret, "secret", "", "token signing secret (default $COURSEDESK_DEV_SECRET)")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of issued tokens")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "start with empty queues")
	cmd.AddCommand(newDevTokenCmd())
	return cmd
}

func newDevTokenCmd() *cobra.Command {
	var (
		secret   string
		userID   string
		role     string
		tokenTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a token the dev backend accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "instructor" && role != "admin" {
				return fmt.Errorf("role must be instructor or admin, got %q", role)
			}
			tokens := devserver.NewTokenService(devSecret(secret), tokenTTL)
			token, err := tokens.GenerateToken(userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "token signing secret (default $COURSEDESK_DEV_SECRET)")
	cmd.Flags().StringVar(&userID, "user", "instructor-1", "user id")
	cmd.Flags().StringVar(&role, "role", "instructor", "instructor or admin")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func devSecret(flag string) string {
	if flag != "" {
		return flag
	}
	if s := os.Getenv("COURSEDESK_DEV_SECRET"); s != "" {
		return s
	}
	return defaultDevSecret
}
