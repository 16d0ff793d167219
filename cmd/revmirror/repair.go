package main

import (
	"context"
	"fmt"

	"github.com/scmtools/revmirror/pkg/store"
	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair <repository>",
	Short: "Recompute denormalized permission stats",
	Long: `Repair recomputes the per-author activity and changeset-count fields
on permission rows from the recorded changesets, without contacting the
repository backend. Useful after manual permission edits.`,
	Args: cobra.ExactArgs(1),
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	return withStore(ctx, cfg, func(s store.Store) error {
		repo, err := s.FindRepository(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resolving repository %q: %w", args[0], err)
		}

		engine := newEngine(cfg, s)
		defer func() { _ = engine.Close() }()

		return engine.Repair(ctx, repo)
	})
}
