package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/scmtools/revmirror/pkg/cache"
	"github.com/scmtools/revmirror/pkg/config"
	"github.com/scmtools/revmirror/pkg/store"
	"github.com/scmtools/revmirror/pkg/svn"
	syncpkg "github.com/scmtools/revmirror/pkg/sync"
	"github.com/spf13/cobra"
)

var syncCount int

var syncCmd = &cobra.Command{
	Use:   "sync [repository]",
	Short: "Mirror unseen revisions into the store",
	Long: `Sync pulls every revision not yet mirrored for the named repository
(by id or name), or for all repositories when none is given. Runs are
incremental and resumable: a rerun picks up from the last durably
recorded revision.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVar(&syncCount, "count", 0,
		"maximum revisions to sync per repository (0 = unbounded)")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Cancellation between revisions; each revision's ingestion is a
	// complete unit, so stopping there is always safe.
	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	return withStore(ctx, cfg, func(s store.Store) error {
		engine := newEngine(cfg, s)
		defer func() { _ = engine.Close() }()

		if len(args) == 0 {
			return engine.SyncAll(ctx, syncCount)
		}

		repo, err := s.FindRepository(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resolving repository %q: %w", args[0], err)
		}

		return engine.Sync(ctx, repo, syncCount)
	})
}

// withStore opens the store for the duration of fn.
func withStore(
	ctx context.Context,
	cfg *config.Config,
	fn func(store.Store) error,
) error {
	s := store.NewStore(log, &cfg.Database)
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := s.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	return fn(s)
}

// newEngine wires the sync engine with its backend client and cache
// sweeper.
func newEngine(cfg *config.Config, s store.Store) *syncpkg.Engine {
	var sweeper syncpkg.Sweeper
	if cfg.Cache.RenderDir != "" {
		sweeper = cache.NewDirSweeper(log, cfg.Cache.RenderDir)
	}

	return syncpkg.NewEngine(
		log, &cfg.Sync, s, svn.NewClient(log, cfg.SVN.Bin), sweeper,
	)
}
