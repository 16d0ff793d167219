package htpasswd

import (
	"context"

	"github.com/scmtools/revmirror/pkg/store"
	"github.com/sirupsen/logrus"
)

// Builder rewrites credential files from the current user set.
type Builder struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewBuilder creates a credential file builder.
func NewBuilder(log logrus.FieldLogger, s store.Store) *Builder {
	return &Builder{
		log:   log.WithField("component", "htpasswd"),
		store: s,
	}
}

// BuildAll rewrites the credential file at path with every known user.
func (b *Builder) BuildAll(ctx context.Context, path string) error {
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		return err
	}

	return b.rebuild(path, users)
}

// BuildForRepository rewrites the credential file for the users holding
// an active permission on the repository. The path template's ":repo"
// placeholder is replaced with the repository name.
func (b *Builder) BuildForRepository(
	ctx context.Context, repo *store.Repository, pathTemplate string,
) error {
	users, err := b.store.UsersWithActivePermission(ctx, repo.ID)
	if err != nil {
		return err
	}

	return b.rebuild(ExpandPath(pathTemplate, repo.Name), users)
}

// rebuild loads the target, drops every existing entry and repopulates
// it from users with a non-empty login and credential hash.
func (b *Builder) rebuild(path string, users []store.User) error {
	file, err := Load(path)
	if err != nil {
		return err
	}

	file.RemoveAll()

	for _, u := range users {
		if u.Login == "" || u.CryptedPassword == "" {
			continue
		}

		file.Set(u.Login, u.CryptedPassword)
	}

	if err := file.Flush(); err != nil {
		return err
	}

	b.log.WithFields(logrus.Fields{
		"path":  path,
		"users": file.Len(),
	}).Info("Credential file written")

	return nil
}
