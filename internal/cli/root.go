// Package cli implements the mailnexus command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/pysugar/m365-mail-nexus/internal/config"
	"github.com/pysugar/m365-mail-nexus/internal/logging"
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "mailnexus",
		Short: "Microsoft 365 mailbox OAuth token manager",
		Long: `mailnexus registers Microsoft 365 mailboxes, runs the authorization code and
device code flows against the Microsoft identity platform, stores the tokens
encrypted and keeps them fresh.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = a.logLevel
			}
			if err := logging.Setup(cfg.Log.Level, cmd.ErrOrStderr(), a.jsonLogs); err != nil {
				return err
			}
			a.cfg = cfg
			a.out = cmd.OutOrStdout()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Config file (default: mailnexus.yaml in ., $HOME/.mailnexus, /etc/mailnexus)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log.level")
	rootCmd.PersistentFlags().BoolVar(&a.jsonLogs, "json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(newAccountCommand(a))
	rootCmd.AddCommand(newAuthCommand(a))
	rootCmd.AddCommand(newMailCommand(a))
	rootCmd.AddCommand(newDBCommand(a))
	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newConfigCommand(a))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
