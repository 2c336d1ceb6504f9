package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/auth/token"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/pysugar/m365-mail-nexus/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newAuthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Run OAuth flows and inspect tokens",
	}
	cmd.AddCommand(
		newStartAuthCodeCommand(a),
		newCompleteAuthCodeCommand(a),
		newLoginCommand(a),
		newStartDeviceCodeCommand(a),
		newPollDeviceCodeCommand(a),
		newRefreshTokenCommand(a),
		newRevokeTokenCommand(a),
		newGetProfileCommand(a),
		newCheckTokensCommand(a),
		newGetConfigCommand(a),
		newTokenStatusCommand(a),
		newValidateTokenCommand(a),
		newShowRawTokenCommand(a),
	)
	return cmd
}

// accountCommand builds a command that acts on the account named by --email.
func accountCommand(a *app, use, short string, run func(cmd *cobra.Command, acc *domain.Account) error) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			acc, err := a.resolve(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("account %s: %w", email, err)
			}
			return run(cmd, acc)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email or id")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newStartAuthCodeCommand(a *app) *cobra.Command {
	var scope string
	cmd := accountCommand(a, "start-auth-code", "Print the authorization URL for an account", func(cmd *cobra.Command, acc *domain.Account) error {
		authURL, state, err := a.tokens.StartAuthorizationCodeFlow(cmd.Context(), acc.ID, scope)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Open this URL in a browser and sign in:")
		fmt.Fprintln(a.out, authURL)
		fmt.Fprintln(a.out)
		fmt.Fprintf(a.out, "Then run: mailnexus auth complete-auth-code --state %s --code <code>\n", state)
		return nil
	})
	cmd.Flags().StringVar(&scope, "scope", "", "OAuth scope (default oauth.scope)")
	return cmd
}

func newCompleteAuthCodeCommand(a *app) *cobra.Command {
	var code, state, scope string
	cmd := &cobra.Command{
		Use:   "complete-auth-code",
		Short: "Redeem an authorization code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			tok, err := a.tokens.CompleteAuthorizationCodeFlow(cmd.Context(), code, state, scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✅ Token stored, expires %s\n", formatTime(tok.ExpiresAt))
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Authorization code from the redirect")
	cmd.Flags().StringVar(&state, "state", "", "State printed by start-auth-code")
	cmd.Flags().StringVar(&scope, "scope", "", "OAuth scope (default oauth.scope)")
	cmd.MarkFlagRequired("code")
	cmd.MarkFlagRequired("state")
	return cmd
}

func newLoginCommand(a *app) *cobra.Command {
	return accountCommand(a, "login", "Run the authorization code flow with a local callback listener", func(cmd *cobra.Command, acc *domain.Account) error {
		ctx := cmd.Context()
		cfg, err := a.accounts.GetAuthConfig(ctx, acc.ID)
		if err != nil {
			return err
		}
		ac, ok := cfg.(*domain.AuthCodeConfig)
		if !ok {
			return fmt.Errorf("%w: %s uses %s; run start-device-code instead", domain.ErrInvalidAuthType, acc.Email, acc.AuthType)
		}

		listener, err := web.StartCallbackListener(ac.RedirectURI, func(ctx context.Context, code, state string) (*domain.Token, error) {
			return a.tokens.CompleteAuthorizationCodeFlow(ctx, code, state, "")
		})
		if err != nil {
			return err
		}
		defer listener.Close()

		authURL, _, err := a.tokens.StartAuthorizationCodeFlow(ctx, acc.ID, "")
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Open this URL in a browser and sign in:")
		fmt.Fprintln(a.out, authURL)
		fmt.Fprintf(a.out, "Waiting for the redirect on %s (up to %v)...\n", listener.Addr(), web.CallbackTimeout)

		tok, err := listener.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✅ %s authenticated, token expires %s\n", acc.Email, formatTime(tok.ExpiresAt))
		return nil
	})
}

func newStartDeviceCodeCommand(a *app) *cobra.Command {
	var (
		scope string
		wait  bool
	)
	cmd := accountCommand(a, "start-device-code", "Request a device code for an account", func(cmd *cobra.Command, acc *domain.Account) error {
		dc, err := a.tokens.StartDeviceCodeFlow(cmd.Context(), acc.ID, scope)
		if err != nil {
			return err
		}
		renderFields(a.out, "Device code", []field{
			{"Verification URI", dc.VerificationURI},
			{"User code", titleStyle.Render(dc.UserCode)},
			{"Expires in", (time.Duration(dc.ExpiresIn) * time.Second).String()},
			{"Device code", dc.DeviceCode},
		})
		if dc.Message != "" {
			fmt.Fprintln(a.out, dc.Message)
		}
		if !wait {
			fmt.Fprintf(a.out, "\nThen run: mailnexus auth poll-device-code --device-code %s\n", dc.DeviceCode)
			return nil
		}
		return pollAndReport(cmd, a, dc.DeviceCode, scope, token.PollOptions{
			Interval: time.Duration(dc.Interval) * time.Second,
		})
	})
	cmd.Flags().StringVar(&scope, "scope", "", "OAuth scope (default oauth.scope)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Keep polling until the user approves")
	return cmd
}

func newPollDeviceCodeCommand(a *app) *cobra.Command {
	var (
		deviceCode, scope string
		opts              token.PollOptions
	)
	cmd := &cobra.Command{
		Use:   "poll-device-code",
		Short: "Poll until a device code is approved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			return pollAndReport(cmd, a, deviceCode, scope, opts)
		},
	}
	cmd.Flags().StringVar(&deviceCode, "device-code", "", "Device code printed by start-device-code")
	cmd.Flags().StringVar(&scope, "scope", "", "OAuth scope (default oauth.scope)")
	cmd.Flags().IntVar(&opts.MaxAttempts, "attempts", token.DefaultPollAttempts, "Maximum poll attempts")
	cmd.Flags().DurationVar(&opts.Interval, "interval", token.DefaultPollInterval, "Wait between attempts")
	cmd.Flags().BoolVar(&opts.Resumable, "resumable", false, "Keep the device code when attempts run out")
	cmd.MarkFlagRequired("device-code")
	return cmd
}

func pollAndReport(cmd *cobra.Command, a *app, deviceCode, scope string, opts token.PollOptions) error {
	fmt.Fprintln(a.out, "Waiting for approval...")
	tok, err := a.tokens.PollDeviceCodeFlow(cmd.Context(), deviceCode, scope, opts)
	switch {
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return fmt.Errorf("the user declined the request: %w", err)
	case errors.Is(err, domain.ErrDeviceCodeExpired):
		return fmt.Errorf("the device code expired, start again: %w", err)
	case err != nil:
		return err
	}
	fmt.Fprintf(a.out, "✅ Token stored, expires %s\n", formatTime(tok.ExpiresAt))
	return nil
}

func newRefreshTokenCommand(a *app) *cobra.Command {
	return accountCommand(a, "refresh-token", "Refresh an account's token now", func(cmd *cobra.Command, acc *domain.Account) error {
		res := a.tokens.RefreshToken(cmd.Context(), acc.ID)
		switch res.Status {
		case token.RefreshSucceeded:
			fmt.Fprintf(a.out, "✅ Refreshed %s, expires %s\n", acc.Email, formatTime(res.Token.ExpiresAt))
			return nil
		case token.RefreshSkipped:
			fmt.Fprintf(a.out, "%s has no refresh token; log in again\n", acc.Email)
			return nil
		}
		return res.Err
	})
}

func newRevokeTokenCommand(a *app) *cobra.Command {
	return accountCommand(a, "revoke-token", "Delete an account's token and deactivate it", func(cmd *cobra.Command, acc *domain.Account) error {
		deleted, err := a.tokens.RevokeToken(cmd.Context(), acc.ID)
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Fprintf(a.out, "%s had no token\n", acc.Email)
			return nil
		}
		fmt.Fprintf(a.out, "🗑️  Revoked token of %s\n", acc.Email)
		return nil
	})
}

func newGetProfileCommand(a *app) *cobra.Command {
	return accountCommand(a, "get-profile", "Fetch the Graph /me profile", func(cmd *cobra.Command, acc *domain.Account) error {
		p, err := a.tokens.UserProfile(cmd.Context(), acc.ID)
		if err != nil {
			return err
		}
		renderFields(a.out, "Profile", []field{
			{"ID", p.ID},
			{"Display name", orDefault(p.DisplayName, "-")},
			{"Mail", orDefault(p.Mail, "-")},
			{"User principal name", orDefault(p.UserPrincipalName, "-")},
			{"Job title", orDefault(p.JobTitle, "-")},
			{"Office", orDefault(p.OfficeLocation, "-")},
		})
		return nil
	})
}

func newCheckTokensCommand(a *app) *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "check-tokens",
		Short: "Refresh every token expiring soon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			if !cmd.Flags().Changed("minutes") {
				minutes = a.cfg.Refresh.WindowMinutes
			}
			res := a.tokens.CheckAndRefreshExpiringTokens(cmd.Context(), minutes)
			renderTable(a.out, []string{"ATTEMPTED", "REFRESHED", "SKIPPED", "FAILED"}, [][]string{{
				strconv.Itoa(res.Attempted),
				okStyle.Render(strconv.Itoa(res.Refreshed)),
				strconv.Itoa(res.Skipped),
				errStyle.Render(strconv.Itoa(res.Failed)),
			}})

			expired, err := a.tokens.ExpiredTokens(cmd.Context())
			if err != nil {
				return multierr.Append(res.Err, err)
			}
			if len(expired) > 0 {
				ids := make([]string, 0, len(expired))
				for _, t := range expired {
					ids = append(ids, t.AccountID)
				}
				fmt.Fprintln(a.out, warnStyle.Render(fmt.Sprintf("⚠️  %d token(s) already expired: %s", len(expired), strings.Join(ids, ", "))))
				fmt.Fprintln(a.out, "Run 'auth refresh-token' or sign in again for these accounts.")
			}
			return res.Err
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 5, "Refresh tokens expiring within this many minutes (default refresh.window_minutes)")
	return cmd
}

func newGetConfigCommand(a *app) *cobra.Command {
	return accountCommand(a, "get-config", "Show an account's client registration", func(cmd *cobra.Command, acc *domain.Account) error {
		cfg, err := a.accounts.GetAuthConfig(cmd.Context(), acc.ID)
		if err != nil {
			return err
		}
		reg := cfg.Registration()
		fields := []field{
			{"Auth type", string(cfg.AuthType())},
			{"Client ID", reg.ClientID},
			{"Tenant ID", reg.TenantID},
		}
		if ac, ok := cfg.(*domain.AuthCodeConfig); ok {
			fields = append(fields,
				field{"Client secret", maskSecret(ac.ClientSecret)},
				field{"Redirect URI", ac.RedirectURI},
			)
		}
		renderFields(a.out, acc.Email, fields)
		return nil
	})
}

func newTokenStatusCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := accountCommand(a, "token-status", "Compare stored and JWT expiry of a token", func(cmd *cobra.Command, acc *domain.Account) error {
		st, err := a.tokens.TokenStatus(cmd.Context(), acc.ID)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(a.out, st)
		}
		fields := []field{
			{"Token type", st.TokenType},
			{"Scope", st.Scope},
			{"Stored expiry", formatTime(st.DBExpiresAt)},
			{"Expired", yesNoInverse(st.DBIsExpired)},
			{"Near expiry", yesNoInverse(st.DBIsNearExpiry)},
			{"Encrypted", yesNo(st.IsEncrypted)},
			{"Refreshable", yesNo(st.CanRefresh)},
			{"JWT", yesNo(st.IsJWT)},
		}
		if st.JWTExpiresAt != nil {
			fields = append(fields, field{"JWT expiry", formatTime(*st.JWTExpiresAt)})
		}
		if st.ExpiryDiff != nil {
			fields = append(fields, field{"Expiry difference", st.ExpiryDiff.String()})
		}
		if st.ExpiryMatches != nil {
			fields = append(fields, field{"Expiries match", yesNo(*st.ExpiryMatches)})
		}
		if st.DecryptionError != "" {
			fields = append(fields, field{"Decryption error", errStyle.Render(st.DecryptionError)})
		}
		renderFields(a.out, acc.Email, fields)
		return nil
	})
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newValidateTokenCommand(a *app) *cobra.Command {
	return accountCommand(a, "validate-token", "Check that a stored token decrypts and is consistent", func(cmd *cobra.Command, acc *domain.Account) error {
		r, err := a.tokens.ValidateTokenIntegrity(cmd.Context(), acc.ID)
		if err != nil {
			return err
		}
		renderFields(a.out, acc.Email, []field{
			{"Token exists", yesNo(r.TokenExists)},
			{"Encrypted", yesNo(r.IsEncrypted)},
			{"Decrypts", yesNo(r.DecryptionSuccess)},
			{"Valid JWT", yesNo(r.IsValidJWT)},
			{"Expiries consistent", yesNo(r.ExpiryTimesConsistent)},
			{"Not expired", yesNo(r.TokenNotExpired)},
			{"Overall", yesNo(r.OverallValid)},
		})
		if !r.OverallValid {
			return fmt.Errorf("token of %s failed validation", acc.Email)
		}
		return nil
	})
}

func newShowRawTokenCommand(a *app) *cobra.Command {
	var full bool
	cmd := accountCommand(a, "show-raw-token", "Print the decrypted token values", func(cmd *cobra.Command, acc *domain.Account) error {
		raw, err := a.tokens.RawTokenValues(cmd.Context(), acc.ID, full)
		if err != nil {
			return err
		}
		if full {
			fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("⚠️  Printing unmasked tokens. Do not share this output."))
		}
		return printJSON(a.out, raw)
	})
	cmd.Flags().BoolVar(&full, "full", false, "Print complete values instead of a masked prefix and suffix")
	return cmd
}

// yesNoInverse renders b where true is the bad outcome.
func yesNoInverse(b bool) string {
	if b {
		return errStyle.Render("yes")
	}
	return okStyle.Render("no")
}
