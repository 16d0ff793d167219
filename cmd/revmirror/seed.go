package main

import (
	"context"
	"fmt"

	"github.com/scmtools/revmirror/pkg/store"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert users from the config file",
	Long: `Seed upserts the users listed under the config's users section into
the store, hashing their passwords with bcrypt. Existing users keep their
id; their credential is replaced.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(cfg.Users) == 0 {
		return fmt.Errorf("users section is empty in config")
	}

	ctx := context.Background()

	return withStore(ctx, cfg, func(s store.Store) error {
		return s.SeedUsers(ctx, cfg.Users)
	})
}
