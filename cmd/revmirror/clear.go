package main

import (
	"context"
	"fmt"

	"github.com/scmtools/revmirror/pkg/store"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear [repository]",
	Short: "Delete mirrored changesets to force a full resync",
	Long: `Clear deletes the recorded changes and changesets for the named
repository, or for every repository when none is given. The next sync
starts over from revision 1.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	return withStore(ctx, cfg, func(s store.Store) error {
		var repositoryID *uint

		if len(args) > 0 {
			repo, err := s.FindRepository(ctx, args[0])
			if err != nil {
				return fmt.Errorf("resolving repository %q: %w", args[0], err)
			}

			repositoryID = &repo.ID
		}

		if err := s.ClearChangesets(ctx, repositoryID); err != nil {
			return err
		}

		log.Info("Changesets cleared")

		return nil
	})
}
