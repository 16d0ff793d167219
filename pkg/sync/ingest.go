package sync

import (
	"context"
	"fmt"

	"github.com/scmtools/revmirror/pkg/store"
	"github.com/scmtools/revmirror/pkg/svn"
)

// ingest mirrors one revision: fetch its properties, compute the delta
// against the previous revision, classify the changed paths and persist
// the changeset with its changes through the open transaction. Backend
// errors propagate untouched; the engine decides whether to abort or
// move on to the next repository.
func ingest(
	ctx context.Context,
	tx store.Tx,
	repo *store.Repository,
	backend svn.Repository,
	rev int64,
) (*store.Changeset, error) {
	info, err := backend.RevisionInfo(ctx, rev)
	if err != nil {
		return nil, err
	}

	delta, err := backend.Delta(ctx, rev)
	if err != nil {
		return nil, err
	}

	cs := &store.Changeset{
		RepositoryID: repo.ID,
		Revision:     rev,
		Author:       info.Author,
		Message:      info.Message,
		ChangedAt:    info.ChangedAt.UTC(),
	}

	if err := tx.CreateChangeset(cs, Classify(delta)); err != nil {
		return nil, fmt.Errorf("persisting revision %d: %w", rev, err)
	}

	return cs, nil
}
