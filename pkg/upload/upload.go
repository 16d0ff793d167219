// Package upload pushes generated artifacts (access config, credential
// files) to remote storage so transport hosts can pull them.
package upload

import "context"

// Uploader uploads a local artifact file to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadFile uploads one local file under the configured remote prefix,
	// keyed by its basename.
	UploadFile(ctx context.Context, localPath string) error
}
