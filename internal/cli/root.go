package cli

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nhle/coursedesk/internal/credential"
	"github.com/nhle/coursedesk/internal/model"
)

var (
	version = "dev"
	commit  = "none"
)

// rootOptions are shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string

	// credentials opens the token store rooted at dir.
	credentials func(dir string) credential.Store
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coursedesk",
		Short: "Live sales, refunds and reviews for course instructors",
		Long: "coursedesk follows a course marketplace from the terminal: new sales, refund " +
			"requests, reviews and (for admins) bank verifications and payments, pushed " +
			"over a realtime socket with polling as the fallback.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", model.DefaultConfigPath(), "path to config.yaml")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with COURSEDESK_* overrides")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newLoginCmd(opts))
	cmd.AddCommand(newLogoutCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newCouponCmd(opts))
	cmd.AddCommand(newDevServerCmd())
	return cmd
}

// loadEnvFile exports the variables in path without overriding ones that
// are already set. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// NewRootCmdForTest returns the root command with creds as the token
// store.
func NewRootCmdForTest(creds credential.Store) *cobra.Command {
	return newRootCmd(&rootOptions{
		credentials: func(string) credential.Store { return creds },
	})
}

func Execute() error {
	return newRootCmd(&rootOptions{
		credentials: func(dir string) credential.Store { return credential.NewKeyring(dir) },
	}).Execute()
}
