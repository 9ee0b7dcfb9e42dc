// Package main is the entry point for the game center server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agmm7834/MyNetBoot-v2/internal/billing"
	"github.com/agmm7834/MyNetBoot-v2/internal/config"
	"github.com/agmm7834/MyNetBoot-v2/internal/filetransfer"
	"github.com/agmm7834/MyNetBoot-v2/internal/handler"
	"github.com/agmm7834/MyNetBoot-v2/internal/model"
	"github.com/agmm7834/MyNetBoot-v2/internal/pkg/db"
	"github.com/agmm7834/MyNetBoot-v2/internal/pkg/lock"
	"github.com/agmm7834/MyNetBoot-v2/internal/registry"
	"github.com/agmm7834/MyNetBoot-v2/internal/repository"
	"github.com/agmm7834/MyNetBoot-v2/internal/server"
	"github.com/agmm7834/MyNetBoot-v2/internal/service"
)

// accountStore is what the server needs from either account store.
type accountStore interface {
	billing.AccountStore
	repository.Seeder
	List(ctx context.Context) ([]*model.Account, error)
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the account store
	store, closeStore, err := openStore(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open account store")
	}
	defer closeStore()

	if cfg.Database.Seed {
		if _, err := repository.Seed(ctx, store, repository.DemoAccounts()); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed accounts")
		}
	}

	// Initialize catalog and file transfer
	catalog := service.NewCatalogService(cfg.Catalog.DataPath)
	if err := catalog.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalog")
	}
	files := filetransfer.NewService(catalog, cfg.Transfer.MaxChunkSize, cfg.Catalog.ManifestTTL)

	// Initialize billing
	reg := registry.New()
	sessions := billing.NewManager(store, lock.NewAccountLock(), billing.Options{
		TickInterval: cfg.Billing.TickInterval,
		UnitPrice:    cfg.Billing.UnitPrice,
		OpTimeout:    cfg.Database.OpTimeout,
	})
	stats := service.NewStatsService(reg, catalog, files, sessions)

	router := handler.NewRouter(&handler.Dependencies{
		Registry:  reg,
		Catalog:   catalog,
		Files:     files,
		Billing:   sessions,
		Stats:     stats,
		Accounts:  store,
		KickGrace: cfg.Admin.KickGrace,
		OpTimeout: cfg.Database.OpTimeout,
	})

	terminals := server.NewTerminalServer(cfg.Server, reg, router,
		server.RecoveryMiddleware(),
		server.LoggingMiddleware(),
	)
	admin := server.NewAdminServer(cfg.Server, cfg.Admin, router,
		server.RecoveryMiddleware(),
		server.LoggingMiddleware(),
	)
	router.SetAdmin(admin)

	if err := terminals.Listen(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start terminal listener")
	}
	if err := admin.Listen(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start admin listener")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return terminals.Serve(gctx) })
	g.Go(func() error { return admin.Serve(gctx) })

	log.Info().
		Str("terminal_addr", terminals.Addr().String()).
		Str("admin_addr", admin.Addr().String()).
		Int("catalog_entries", catalog.Count()).
		Msg("Server is running")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Listener failed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sessions.Close(shutdownCtx)

	log.Info().Msg("Server stopped gracefully")
}

// openStore opens the configured account store and applies its schema.
func openStore(ctx context.Context, cfg *config.DatabaseConfig) (accountStore, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.Migrate(ctx, pool.Pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewAccountRepository(pool.Pool), pool.Close, nil

	default:
		gdb, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := repository.MigrateSQLite(gdb); err != nil {
			db.CloseSQLite(gdb)
			return nil, nil, err
		}
		return repository.NewSQLiteAccountRepository(gdb), func() { db.CloseSQLite(gdb) }, nil
	}
}
