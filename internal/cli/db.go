package cli

import (
	"errors"
	"fmt"

	"github.com/pysugar/m365-mail-nexus/internal/db"
	"github.com/spf13/cobra"
)

func newDBCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the database schema",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the schema and the admin API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// open migrates.
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			key, err := db.EnsureAPIKey(a.db)
			if err != nil {
				return fmt.Errorf("ensure api key: %w", err)
			}
			fmt.Fprintln(a.out, "✅ Database initialized")
			fmt.Fprintf(a.out, "Admin API key: %s\n", key)
			return nil
		},
	}

	var yes bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every table and recreate the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes all accounts and tokens; pass --yes to confirm")
			}
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			if err := db.Reset(a.db); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "✅ Database reset")
			return nil
		},
	}
	resetCmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")

	rotateCmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Replace the admin API key stored in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			key, err := db.RegenerateAPIKey(a.db)
			if err != nil {
				return fmt.Errorf("rotate api key: %w", err)
			}
			fmt.Fprintf(a.out, "Admin API key: %s\n", key)
			if a.cfg.Web.APIKey != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("⚠️  web.api_key is set and takes precedence over the stored key"))
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, resetCmd, rotateCmd)
	return cmd
}
