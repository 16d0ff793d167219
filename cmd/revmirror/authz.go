package main

import (
	"context"
	"fmt"

	"github.com/scmtools/revmirror/pkg/authz"
	"github.com/scmtools/revmirror/pkg/store"
	"github.com/spf13/cobra"
)

var authzUpload bool

var authzCmd = &cobra.Command{
	Use:   "authz [repository...]",
	Short: "Write the access configuration file",
	Long: `Authz renders the access configuration from the current permission
rows, grouped by repository and path, and atomically replaces the file
configured under authz.path. With no arguments every repository is
included.`,
	RunE: runAuthz,
}

func init() {
	authzCmd.Flags().BoolVar(&authzUpload, "upload", false,
		"upload the generated file to the configured S3 bucket")

	rootCmd.AddCommand(authzCmd)
}

func runAuthz(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Authz.Path == "" {
		return fmt.Errorf("authz.path is required in config")
	}

	ctx := context.Background()

	return withStore(ctx, cfg, func(s store.Store) error {
		builder := authz.NewBuilder(log, s)

		if len(args) == 0 {
			if err := builder.BuildAll(ctx, cfg.Authz.Path); err != nil {
				return err
			}
		} else {
			repos := make([]store.Repository, 0, len(args))

			for _, arg := range args {
				repo, err := s.FindRepository(ctx, arg)
				if err != nil {
					return fmt.Errorf("resolving repository %q: %w", arg, err)
				}

				repos = append(repos, *repo)
			}

			if err := builder.Build(ctx, repos, cfg.Authz.Path); err != nil {
				return err
			}
		}

		if authzUpload {
			return uploadArtifact(ctx, cfg, cfg.Authz.Path)
		}

		return nil
	})
}
