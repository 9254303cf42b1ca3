// ABOUTME: Root Cobra command and global flags
// ABOUTME: Loads config, opens the datastore and wires scheduler, library and sync engine

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harper/feedradar/internal/charm"
	"github.com/harper/feedradar/internal/condcache"
	"github.com/harper/feedradar/internal/config"
	"github.com/harper/feedradar/internal/fetch"
	"github.com/harper/feedradar/internal/library"
	"github.com/harper/feedradar/internal/logging"
	"github.com/harper/feedradar/internal/storage"
	feedsync "github.com/harper/feedradar/internal/sync"
)

// closeTimeout bounds how long shutdown waits for background work.
const closeTimeout = 30 * time.Second

var (
	dbPath  string
	verbose bool

	cfg    *config.Config
	logger logging.Logger
	store  *storage.SQLiteStore
	lib    *library.Library

	engine     *feedsync.Engine
	stopEngine context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "feedradar",
	Short: "RSS/Atom/JSON feed aggregator with sync and MCP integration",
	Long: `
feedradar keeps a local library of RSS, Atom and JSON feeds.

Fetch feeds, read and star items, sync your state across devices
with Charm, and expose everything to AI agents via MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dbPath == "" {
			dbPath = cfg.GetDBPath()
		}
		logger = logging.New(os.Stderr, verbose)

		store, err = storage.NewSQLiteStore(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		scheduler := fetch.NewScheduler(
			fetch.NewClient(config.DefaultHTTPTimeout),
			condcache.New(store.KV()),
			logger,
			fetch.WithWorkers(cfg.GetWorkers()),
			fetch.WithHostRate(cfg.PerHostRPS, 1),
		)
		lib = library.New(store, scheduler, logger, library.WithDataDir(cfg.GetDataDir()))

		if cfg.SyncEnabled {
			return startEngine()
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdown()
	},
}

// shutdown waits for background work, stops the sync engine and closes the
// datastore. It is safe to call more than once.
func shutdown() error {
	if store == nil {
		return nil
	}
	lib.Wait()

	var errs []error
	if engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sync engine: %w", err))
		}
		cancel()
		stopEngine()
		engine = nil
	}
	if err := store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	store, lib = nil, nil
	return errors.Join(errs...)
}

// startEngine connects the library to a Charm-backed sync engine. It is a
// no-op when the engine is already running.
func startEngine() error {
	if engine != nil {
		return nil
	}
	client, err := charm.NewClient(cfg.GetCharmHost())
	if err != nil {
		return fmt.Errorf("failed to create charm client: %w", err)
	}
	e, err := feedsync.New(charm.NewClientBackend(client), lib, store.KV(), logger)
	if err != nil {
		return fmt.Errorf("failed to start sync engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = e.Run(ctx)
	}()
	engine, stopEngine = e, cancel
	lib.SetSyncer(engine)
	return nil
}

// Execute runs the CLI, cancelling the command context on interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:])
}

// run executes the command tree with args. Cobra skips the post-run hook
// when a command fails, so shutdown runs here as well.
func run(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if closeErr := shutdown(); err == nil {
		err = closeErr
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file path (default: ~/.local/share/feedradar/feedradar.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
