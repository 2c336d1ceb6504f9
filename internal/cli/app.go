package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/account"
	"github.com/pysugar/m365-mail-nexus/internal/auth/microsoft"
	"github.com/pysugar/m365-mail-nexus/internal/auth/token"
	"github.com/pysugar/m365-mail-nexus/internal/cache"
	"github.com/pysugar/m365-mail-nexus/internal/config"
	"github.com/pysugar/m365-mail-nexus/internal/crypto"
	"github.com/pysugar/m365-mail-nexus/internal/db"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const janitorInterval = time.Minute

// app carries the configuration and the lazily opened services shared by
// every command.
type app struct {
	cfgFile  string
	logLevel string
	jsonLogs bool

	cfg *config.Config
	out io.Writer

	db       *gorm.DB
	store    cache.Store
	accounts *account.Service
	tokens   *token.Manager

	stop context.CancelFunc
}

// open connects to the database and cache and builds the services. It is a
// no-op once done.
func (a *app) open(ctx context.Context) error {
	if a.tokens != nil {
		return nil
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	gdb, err := db.Open(a.cfg.Database.URL, gormLogLevel(a.cfg.Log.Level))
	if err != nil {
		return err
	}
	a.db = gdb

	enc, err := crypto.NewEncryptor(a.cfg.EncryptionKey())
	if err != nil {
		return err
	}
	if !enc.VerifyKey() {
		return fmt.Errorf("%w: encryption key self-check failed", domain.ErrEncryption)
	}

	bg, stop := context.WithCancel(context.Background())
	a.stop = stop
	a.store = a.openCache(ctx, bg)

	graph := microsoft.NewClient(
		microsoft.WithAuthorityURL(a.cfg.OAuth.AuthorityURL),
		microsoft.WithGraphBaseURL(a.cfg.Graph.BaseURL),
	)

	accounts := db.NewAccountRepository(gdb)
	configs := db.NewAuthConfigRepository(gdb, enc)
	tokens := db.NewTokenRepository(gdb)

	a.accounts = account.NewService(accounts, configs, tokens)
	a.tokens = token.NewManager(token.Deps{
		Accounts: accounts,
		Configs:  configs,
		Tokens:   tokens,
		Graph:    graph,
		Cipher:   enc,
		Cache:    a.store,
	},
		token.WithDefaultScope(a.cfg.OAuth.Scope),
		token.WithSweepConcurrency(a.cfg.Refresh.Concurrency),
	)
	return nil
}

// openCache builds the configured cache. An unreachable Redis falls back to
// the database so the flows keep working.
func (a *app) openCache(ctx, bg context.Context) cache.Store {
	switch backend := a.cfg.CacheBackend(); backend {
	case config.CacheMemory:
		m := cache.NewMemory()
		m.StartJanitor(bg, janitorInterval)
		log.Debug().Msg("Using in-memory cache")
		return m
	case config.CacheRedis:
		r, err := cache.NewRedis(a.cfg.Cache.RedisURL)
		if err == nil {
			if err = r.Ping(ctx); err == nil {
				log.Debug().Msg("Using Redis cache")
				return r
			}
			r.Close()
		}
		log.Warn().Err(err).Msg("⚠️ Redis unavailable, falling back to database cache")
	}
	log.Debug().Msg("Using database cache")
	return cache.NewDatabase(a.db)
}

func (a *app) close() {
	if a.stop != nil {
		a.stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close cache")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

// resolve finds an account by email or id.
func (a *app) resolve(ctx context.Context, ref string) (*domain.Account, error) {
	if strings.Contains(ref, "@") {
		return a.accounts.GetByEmail(ctx, ref)
	}
	return a.accounts.Get(ctx, ref)
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return logger.Info
	case "disabled":
		return logger.Silent
	}
	return logger.Warn
}
