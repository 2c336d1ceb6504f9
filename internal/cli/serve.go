package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/cache"
	"github.com/pysugar/m365-mail-nexus/internal/db"
	"github.com/pysugar/m365-mail-nexus/internal/web"
	"github.com/robfig/cron"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout  = 10 * time.Second
	cacheCleanupSpec = "@every 10m"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the OAuth callback routes and refresh tokens on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.open(ctx); err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Addr()
			}

			if a.cfg.Web.APIKey == "" {
				if _, err := db.EnsureAPIKey(a.db); err != nil {
					return fmt.Errorf("ensure api key: %w", err)
				}
				log.Info().Msg("🔑 Admin API key stored in the database; run 'mailnexus db init' to print it")
			}

			scheduler, err := a.schedule(ctx)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()

			srv := web.NewServer(a.accounts, a.tokens, web.Options{
				APIKey:               a.apiKey,
				RefreshWindowMinutes: a.cfg.Refresh.WindowMinutes,
			})
			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Str("schedule", a.cfg.Refresh.Schedule).Msg("🚀 mailnexus listening")
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default web.host:web.port)")
	return cmd
}

// apiKey prefers the configured key over the one stored in the database.
func (a *app) apiKey() string {
	if a.cfg.Web.APIKey != "" {
		return a.cfg.Web.APIKey
	}
	return db.GetAPIKey(a.db)
}

// schedule registers the refresh sweep and, for the database cache, the
// expired entry cleanup.
func (a *app) schedule(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	err := c.AddFunc(a.cfg.Refresh.Schedule, func() {
		res := a.tokens.CheckAndRefreshExpiringTokens(ctx, a.cfg.Refresh.WindowMinutes)
		if res.Err != nil {
			log.Error().Err(res.Err).Int("failed", res.Failed).Msg("❌ Scheduled refresh had failures")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", a.cfg.Refresh.Schedule, err)
	}

	if dbCache, ok := a.store.(*cache.Database); ok {
		err := c.AddFunc(cacheCleanupSpec, func() {
			n, err := dbCache.Cleanup(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Cache cleanup failed")
				return
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("Expired cache entries removed")
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}
