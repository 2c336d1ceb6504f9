package cli

import (
	"context"
	"fmt"

	"github.com/pysugar/m365-mail-nexus/internal/account"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/spf13/cobra"
)

func newAccountCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage registered mailboxes",
	}
	cmd.AddCommand(
		newAccountRegisterCommand(a),
		newAccountListCommand(a),
		newAccountGetCommand(a),
		newAccountUpdateCommand(a),
		newAccountDeleteCommand(a),
		newAccountStatusCommand(a, "activate", "Mark an account active", (*account.Service).Activate),
		newAccountStatusCommand(a, "deactivate", "Mark an account inactive", (*account.Service).Deactivate),
	)
	return cmd
}

type registrationFlags struct {
	name, authType, tenantID, clientID, clientSecret, redirectURI string
}

func (f *registrationFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringVar(&f.authType, "auth-type", string(domain.AuthTypeAuthorizationCode), "authorization_code or device_code")
	cmd.Flags().StringVar(&f.tenantID, "tenant-id", "", "Azure tenant id (default azure.tenant_id)")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "App registration client id (default azure.client_id)")
	cmd.Flags().StringVar(&f.clientSecret, "client-secret", "", "Client secret, authorization code only (default azure.client_secret)")
	cmd.Flags().StringVar(&f.redirectURI, "redirect-uri", "", "Redirect URI, authorization code only (default oauth.redirect_uri)")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func newAccountRegisterCommand(a *app) *cobra.Command {
	var (
		email string
		f     registrationFlags
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a mailbox",
		Long: `Register a mailbox and its app registration. The account starts inactive
until one of the auth flows completes.

Examples:
  mailnexus account register --email user@contoso.com --client-secret s3cret
  mailnexus account register --email kiosk@contoso.com --auth-type device_code`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			authType, err := domain.ParseAuthType(f.authType)
			if err != nil {
				return err
			}
			reg := account.Registration{
				Email:       email,
				DisplayName: f.name,
				AuthType:    authType,
				TenantID:    orDefault(f.tenantID, a.cfg.Azure.TenantID),
				ClientID:    orDefault(f.clientID, a.cfg.Azure.ClientID),
			}
			if authType == domain.AuthTypeAuthorizationCode {
				reg.ClientSecret = orDefault(f.clientSecret, a.cfg.Azure.ClientSecret)
				reg.RedirectURI = orDefault(f.redirectURI, a.cfg.OAuth.RedirectURI)
			}

			acc, err := a.accounts.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✅ Registered %s (%s)\n", acc.Email, acc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Mailbox address")
	f.bind(cmd)
	cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountListCommand(a *app) *cobra.Command {
	var (
		status, authType string
		offset, limit    int
		asJSON           bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			ctx := cmd.Context()

			var (
				accounts []*domain.Account
				err      error
			)
			switch {
			case status != "":
				st, perr := domain.ParseAccountStatus(status)
				if perr != nil {
					return perr
				}
				accounts, err = a.accounts.ListByStatus(ctx, st)
			case authType != "":
				t, perr := domain.ParseAuthType(authType)
				if perr != nil {
					return perr
				}
				accounts, err = a.accounts.ListByAuthType(ctx, t)
			default:
				accounts, err = a.accounts.List(ctx, offset, limit)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(a.out, accounts)
			}
			if len(accounts) == 0 {
				fmt.Fprintln(a.out, "No accounts registered.")
				return nil
			}
			rows := make([][]string, 0, len(accounts))
			for _, acc := range accounts {
				rows = append(rows, []string{acc.ID, acc.Email, acc.DisplayName, string(acc.AuthType), statusBadge(acc.Status), formatTimePtr(acc.LastSyncAt)})
			}
			renderTable(a.out, []string{"ID", "EMAIL", "NAME", "AUTH TYPE", "STATUS", "LAST SYNC"}, rows)
			fmt.Fprintf(a.out, "%d account(s)\n", len(accounts))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&authType, "auth-type", "", "Filter by auth type")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many accounts")
	cmd.Flags().IntVar(&limit, "limit", 0, "Return at most this many accounts (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newAccountGetCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <email|id>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			acc, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(a.out, acc)
			}
			renderFields(a.out, acc.Email, []field{
				{"ID", acc.ID},
				{"Display name", orDefault(acc.DisplayName, "-")},
				{"Auth type", string(acc.AuthType)},
				{"Status", statusBadge(acc.Status)},
				{"Tenant", orDefault(acc.TenantID, "-")},
				{"Created", formatTime(acc.CreatedAt)},
				{"Updated", formatTime(acc.UpdatedAt)},
				{"Last sync", formatTimePtr(acc.LastSyncAt)},
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newAccountUpdateCommand(a *app) *cobra.Command {
	var f registrationFlags
	cmd := &cobra.Command{
		Use:   "update <email|id>",
		Short: "Change an account",
		Long: `Change the display name or tenant of an account, or switch its auth type.
Switching the auth type discards the stored token and config; pass the client
settings for the new type. The account is left inactive until it logs in again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			ctx := cmd.Context()
			acc, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}

			var u account.Update
			if cmd.Flags().Changed("name") {
				u.DisplayName = &f.name
			}
			if cmd.Flags().Changed("tenant-id") {
				u.TenantID = &f.tenantID
			}
			if cmd.Flags().Changed("auth-type") {
				t, err := domain.ParseAuthType(f.authType)
				if err != nil {
					return err
				}
				u.AuthType = &t
				reg := account.Registration{
					AuthType:     t,
					TenantID:     orDefault(f.tenantID, acc.TenantID),
					ClientID:     orDefault(f.clientID, a.cfg.Azure.ClientID),
					ClientSecret: orDefault(f.clientSecret, a.cfg.Azure.ClientSecret),
					RedirectURI:  orDefault(f.redirectURI, a.cfg.OAuth.RedirectURI),
				}
				u.Config = reg.Config(acc.ID)
			}

			updated, err := a.accounts.Update(ctx, acc.ID, u)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✅ Updated %s (%s, %s)\n", updated.Email, updated.AuthType, updated.Status)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newAccountDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <email|id>",
		Short: "Delete an account with its token and config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			acc, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := a.accounts.Delete(cmd.Context(), acc.ID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "🗑️  Deleted %s\n", acc.Email)
			return nil
		},
	}
}

type transitionFunc func(*account.Service, context.Context, string) (*domain.Account, error)

func newAccountStatusCommand(a *app, use, short string, apply transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email|id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			acc, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			acc, err = apply(a.accounts, cmd.Context(), acc.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is now %s\n", acc.Email, statusBadge(acc.Status))
			return nil
		},
	}
}
