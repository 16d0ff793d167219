package main

import (
	"context"
	"fmt"

	"github.com/scmtools/revmirror/pkg/store"
	"github.com/spf13/cobra"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage mirrored repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register a repository for mirroring",
	Args:  cobra.ExactArgs(2),
	RunE:  runRepoAdd,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	RunE:  runRepoList,
}

func init() {
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)

	rootCmd.AddCommand(repoCmd)
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	return withStore(ctx, cfg, func(s store.Store) error {
		repo := &store.Repository{
			Name: args[0],
			Path: args[1],
		}

		if err := s.CreateRepository(ctx, repo); err != nil {
			return err
		}

		log.WithField("repository", repo.Name).Info("Repository registered")

		return nil
	})
}

func runRepoList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	return withStore(ctx, cfg, func(s store.Store) error {
		repos, err := s.ListRepositories(ctx)
		if err != nil {
			return err
		}

		for _, repo := range repos {
			last, err := s.LastRecordedRevision(ctx, repo.ID)
			if err != nil {
				return err
			}

			fmt.Printf("%d\t%s\t%s\t(synced to r%d)\n",
				repo.ID, repo.Name, repo.Path, last)
		}

		return nil
	})
}
