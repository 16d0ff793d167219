package sync

import (
	"fmt"
	"time"

	"github.com/scmtools/revmirror/pkg/store"
)

// aggregate resolves tracked author logins to known users and refreshes
// the denormalized author, last-changed-at and changesets-count fields on
// their permission rows for the repository. Authors with no matching user
// are skipped. Recomputing from the same changeset rows always yields the
// same values, so the step is safe to re-run for consistency repair.
func aggregate(
	tx store.Tx,
	repositoryID uint,
	authors map[string]time.Time,
) error {
	if len(authors) == 0 {
		return nil
	}

	logins := make([]string, 0, len(authors))
	for login := range authors {
		logins = append(logins, login)
	}

	users, err := tx.UsersByLogins(logins)
	if err != nil {
		return fmt.Errorf("resolving authors: %w", err)
	}

	for _, user := range users {
		count, err := tx.CountChangesets(repositoryID)
		if err != nil {
			return err
		}

		if err := tx.UpdatePermissionStats(
			user.ID, repositoryID,
			user.Login, authors[user.Login], count,
		); err != nil {
			return err
		}
	}

	return nil
}
