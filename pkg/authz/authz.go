// Package authz renders the access configuration consumed by the
// repository transport layer: one stanza per repository-path group with
// one rule line per permission.
package authz

import (
	"bytes"
	"context"
	"fmt"

	"github.com/scmtools/revmirror/pkg/fsutil"
	"github.com/scmtools/revmirror/pkg/store"
	"github.com/sirupsen/logrus"
)

// Builder reads permission rows and writes the access configuration.
type Builder struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewBuilder creates an access config builder.
func NewBuilder(log logrus.FieldLogger, s store.Store) *Builder {
	return &Builder{
		log:   log.WithField("component", "authz"),
		store: s,
	}
}

// Build renders the access configuration for the given repositories and
// atomically replaces the file at path. Rules are grouped by repository
// namespace and then by path scope, in the order the permission rows were
// read. A group whose rules all resolve to nothing is skipped entirely,
// so no empty stanza header is ever emitted.
func (b *Builder) Build(
	ctx context.Context, repos []store.Repository, path string,
) error {
	ids := make([]uint, 0, len(repos))
	for _, repo := range repos {
		ids = append(ids, repo.ID)
	}

	perms, err := b.store.ActivePermissions(ctx, ids)
	if err != nil {
		return err
	}

	users, err := b.indexUsers(ctx, perms)
	if err != nil {
		return err
	}

	grouped := groupByRepoAndPath(perms)

	var buf bytes.Buffer

	for _, repo := range repos {
		group, ok := grouped[repo.ID]
		if !ok {
			continue
		}

		for _, scope := range group.paths {
			stanza := renderStanza(repo.Name, scope, group.perms[scope], users)
			buf.Write(stanza)
		}
	}

	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing access config: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"path":         path,
		"repositories": len(repos),
	}).Info("Access config written")

	return nil
}

// BuildAll renders the access configuration for every known repository.
func (b *Builder) BuildAll(ctx context.Context, path string) error {
	repos, err := b.store.ListRepositories(ctx)
	if err != nil {
		return err
	}

	return b.Build(ctx, repos, path)
}

func (b *Builder) indexUsers(
	ctx context.Context, perms []store.Permission,
) (map[uint]store.User, error) {
	ids := make([]uint, 0, len(perms))
	seen := make(map[uint]bool, len(perms))

	for _, p := range perms {
		if p.UserID == nil || seen[*p.UserID] {
			continue
		}

		seen[*p.UserID] = true
		ids = append(ids, *p.UserID)
	}

	users, err := b.store.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	index := make(map[uint]store.User, len(users))
	for _, u := range users {
		index[u.ID] = u
	}

	return index, nil
}

type repoGroup struct {
	paths []string
	perms map[string][]store.Permission
}

// groupByRepoAndPath buckets permissions by repository and path scope,
// preserving read order within each bucket.
func groupByRepoAndPath(perms []store.Permission) map[uint]*repoGroup {
	grouped := make(map[uint]*repoGroup)

	for _, p := range perms {
		group, ok := grouped[p.RepositoryID]
		if !ok {
			group = &repoGroup{perms: make(map[string][]store.Permission)}
			grouped[p.RepositoryID] = group
		}

		if _, ok := group.perms[p.Path]; !ok {
			group.paths = append(group.paths, p.Path)
		}

		group.perms[p.Path] = append(group.perms[p.Path], p)
	}

	return grouped
}

// renderStanza renders one "[name:/path]" header and its rule lines.
// Returns nil when no rule resolves.
func renderStanza(
	name, scope string,
	perms []store.Permission,
	users map[uint]store.User,
) []byte {
	var rules bytes.Buffer

	for _, p := range perms {
		login := "*"

		if p.UserID != nil {
			user, ok := users[*p.UserID]
			if !ok || user.Login == "" {
				continue
			}

			login = user.Login
		}

		access := "r"
		if p.FullAccess {
			access = "rw"
		}

		fmt.Fprintf(&rules, "%s = %s\n", login, access)
	}

	if rules.Len() == 0 {
		return nil
	}

	var stanza bytes.Buffer

	fmt.Fprintf(&stanza, "[%s:/%s]\n", name, scope)
	stanza.Write(rules.Bytes())
	stanza.WriteString("\n")

	return stanza.Bytes()
}
