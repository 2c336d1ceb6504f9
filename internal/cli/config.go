package cli

import (
	"fmt"
	"runtime"

	"github.com/pysugar/m365-mail-nexus/internal/version"
	"github.com/spf13/cobra"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, out)
			if err := a.cfg.Validate(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("⚠️  "+err.Error()))
			}
			return nil
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mailnexus %s (commit %s, built %s, %s)\n",
				version.Version, version.Commit, version.BuildTime, runtime.Version())
			return nil
		},
	}
}
