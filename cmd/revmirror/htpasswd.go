package main

import (
	"context"
	"fmt"

	"github.com/scmtools/revmirror/pkg/config"
	"github.com/scmtools/revmirror/pkg/htpasswd"
	"github.com/scmtools/revmirror/pkg/store"
	"github.com/scmtools/revmirror/pkg/upload"
	"github.com/spf13/cobra"
)

var htpasswdUpload bool

var htpasswdCmd = &cobra.Command{
	Use:   "htpasswd [repository]",
	Short: "Rewrite the credential file",
	Long: `Htpasswd rewrites the credential file configured under htpasswd.path
from the current user set: all users, or only the users holding an active
permission on the named repository. Existing entries are dropped first,
so removals take effect. A ":repo" placeholder in the path is replaced
with the repository name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHtpasswd,
}

func init() {
	htpasswdCmd.Flags().BoolVar(&htpasswdUpload, "upload", false,
		"upload the generated file to the configured S3 bucket")

	rootCmd.AddCommand(htpasswdCmd)
}

func runHtpasswd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Htpasswd.Path == "" {
		return fmt.Errorf("htpasswd.path is required in config")
	}

	ctx := context.Background()

	return withStore(ctx, cfg, func(s store.Store) error {
		builder := htpasswd.NewBuilder(log, s)

		target := cfg.Htpasswd.Path

		if len(args) == 0 {
			if err := builder.BuildAll(ctx, target); err != nil {
				return err
			}
		} else {
			repo, err := s.FindRepository(ctx, args[0])
			if err != nil {
				return fmt.Errorf("resolving repository %q: %w", args[0], err)
			}

			if err := builder.BuildForRepository(ctx, repo, target); err != nil {
				return err
			}

			target = htpasswd.ExpandPath(target, repo.Name)
		}

		if htpasswdUpload {
			return uploadArtifact(ctx, cfg, target)
		}

		return nil
	})
}

// uploadArtifact pushes a generated file to the configured S3 bucket.
func uploadArtifact(
	ctx context.Context, cfg *config.Config, path string,
) error {
	if cfg.Upload == nil {
		return fmt.Errorf("upload section is required in config for --upload")
	}

	uploader, err := upload.NewS3Uploader(log, cfg.Upload)
	if err != nil {
		return fmt.Errorf("creating uploader: %w", err)
	}

	return pushArtifact(ctx, uploader, path)
}

// pushArtifact verifies the remote storage is writable, then uploads the
// file. The preflight surfaces bucket misconfiguration before the upload.
func pushArtifact(ctx context.Context, uploader upload.Uploader, path string) error {
	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("upload preflight: %w", err)
	}

	if err := uploader.UploadFile(ctx, path); err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}

	return nil
}
