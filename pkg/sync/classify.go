package sync

import (
	"github.com/scmtools/revmirror/pkg/store"
	"github.com/scmtools/revmirror/pkg/svn"
)

// Classify turns one revision's structural delta into canonical change
// records. A raw copy whose source path was deleted in the same revision
// is really a move: the matching delete is consumed so the pair is not
// double-reported as an unrelated delete and copy. Remaining deletions
// are reported as plain deletes. The backend deletes a path at most once
// per revision, so the first matching copy wins.
func Classify(delta *svn.Delta) []store.Change {
	changes := make([]store.Change, 0,
		len(delta.AddedDirs)+len(delta.AddedFiles)+
			len(delta.UpdatedDirs)+len(delta.UpdatedFiles)+
			len(delta.DeletedDirs)+len(delta.DeletedFiles)+
			len(delta.CopiedDirs)+len(delta.CopiedFiles))

	for _, paths := range [][]string{delta.AddedDirs, delta.AddedFiles} {
		for _, path := range paths {
			changes = append(changes, store.Change{Kind: store.KindAdd, Path: path})
		}
	}

	for _, paths := range [][]string{delta.UpdatedDirs, delta.UpdatedFiles} {
		for _, path := range paths {
			changes = append(changes, store.Change{Kind: store.KindModify, Path: path})
		}
	}

	deleted := make([]string, 0,
		len(delta.DeletedDirs)+len(delta.DeletedFiles))
	deleted = append(deleted, delta.DeletedDirs...)
	deleted = append(deleted, delta.DeletedFiles...)

	deletedSet := make(map[string]bool, len(deleted))
	for _, path := range deleted {
		deletedSet[path] = true
	}

	copies := make([]svn.Copy, 0,
		len(delta.CopiedDirs)+len(delta.CopiedFiles))
	copies = append(copies, delta.CopiedDirs...)
	copies = append(copies, delta.CopiedFiles...)

	for _, cp := range copies {
		kind := store.KindCopy
		if deletedSet[cp.FromPath] {
			delete(deletedSet, cp.FromPath)

			kind = store.KindMove
		}

		changes = append(changes, store.Change{
			Kind:         kind,
			Path:         cp.Path,
			FromPath:     cp.FromPath,
			FromRevision: cp.FromRevision,
		})
	}

	// Preserve the backend's reported order for what is left.
	for _, path := range deleted {
		if deletedSet[path] {
			changes = append(changes, store.Change{
				Kind: store.KindDelete, Path: path,
			})
		}
	}

	return changes
}
