// Package svn adapts a Subversion repository backend for the sync engine.
// The shipped implementation shells out to svnlook; the interfaces keep
// the backend swappable for tests.
package svn

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable marks a repository that cannot be opened or read.
// A sync run treats it as fatal for that repository only.
var ErrBackendUnavailable = errors.New("svn backend unavailable")

// RevisionInfo holds the per-revision properties recorded on a changeset.
type RevisionInfo struct {
	Author    string
	Message   string
	ChangedAt time.Time
}

// Copy is one raw copied entry from a structural delta. The backend
// reports any path whose content and history match an earlier path as
// copied, whether or not the original still exists.
type Copy struct {
	Path         string
	FromPath     string
	FromRevision int64
}

// Delta is the categorized structural difference between two consecutive
// tree snapshots. Paths carry no trailing slash; dir/file categorization
// is explicit.
type Delta struct {
	AddedDirs    []string
	AddedFiles   []string
	UpdatedDirs  []string
	UpdatedFiles []string
	DeletedDirs  []string
	DeletedFiles []string
	CopiedDirs   []Copy
	CopiedFiles  []Copy
}

// Client opens repository handles by filesystem path.
type Client interface {
	Open(ctx context.Context, path string) (Repository, error)
}

// Repository is an open handle to one repository.
type Repository interface {
	// LatestRevision returns the youngest revision number.
	LatestRevision(ctx context.Context) (int64, error)

	// RevisionInfo returns author, message and timestamp for a revision.
	RevisionInfo(ctx context.Context, rev int64) (*RevisionInfo, error)

	// Delta computes the structural difference between rev-1 and rev.
	Delta(ctx context.Context, rev int64) (*Delta, error)

	Close() error
}
