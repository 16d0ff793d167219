package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/scmtools/revmirror/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	s := NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func createRepo(t *testing.T, s Store, name string) *Repository {
	t.Helper()

	repo := &Repository{Name: name, Path: "/repos/" + name}
	require.NoError(t, s.CreateRepository(context.Background(), repo))

	return repo
}

func insertChangeset(
	t *testing.T, s Store, repoID uint, rev int64, author string,
	changedAt time.Time, changes ...Change,
) *Changeset {
	t.Helper()

	tx, err := s.Begin(context.Background())
	require.NoError(t, err)

	cs := &Changeset{
		RepositoryID: repoID,
		Revision:     rev,
		Author:       author,
		Message:      "msg",
		ChangedAt:    changedAt,
	}
	require.NoError(t, tx.CreateChangeset(cs, changes))
	require.NoError(t, tx.Commit())

	return cs
}

func TestLastRecordedRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := createRepo(t, s, "myrepo")

	last, err := s.LastRecordedRevision(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	now := time.Now().UTC()
	insertChangeset(t, s, repo.ID, 1, "al", now)
	insertChangeset(t, s, repo.ID, 2, "al", now)

	last, err = s.LastRecordedRevision(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)
}

func TestCreateChangesetTagsChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := createRepo(t, s, "myrepo")

	cs := insertChangeset(t, s, repo.ID, 1, "al", time.Now().UTC(),
		Change{Kind: KindAdd, Path: "trunk/a.txt"},
		Change{Kind: KindMove, Path: "trunk/b.txt",
			FromPath: "trunk/old.txt", FromRevision: 1},
	)

	changes, err := s.ListChanges(ctx, cs.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	for _, change := range changes {
		assert.Equal(t, cs.ID, change.ChangesetID)
	}

	assert.Equal(t, "trunk/old.txt", changes[1].FromPath)
	assert.Equal(t, int64(1), changes[1].FromRevision)
}

func TestTxRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := createRepo(t, s, "myrepo")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.CreateChangeset(&Changeset{
		RepositoryID: repo.ID,
		Revision:     1,
		ChangedAt:    time.Now().UTC(),
	}, nil))
	require.NoError(t, tx.Rollback())

	count, err := s.CountChangesets(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestChangesetAuthors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := createRepo(t, s, "myrepo")

	base := time.Date(2007, 5, 1, 12, 0, 0, 0, time.UTC)
	insertChangeset(t, s, repo.ID, 1, "al", base)
	insertChangeset(t, s, repo.ID, 2, "bob", base.Add(time.Minute))
	insertChangeset(t, s, repo.ID, 3, "al", base.Add(2*time.Minute))

	authors, err := s.ChangesetAuthors(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, authors, 2)

	assert.WithinDuration(t, base.Add(2*time.Minute), authors["al"], time.Second)
	assert.WithinDuration(t, base.Add(time.Minute), authors["bob"], time.Second)
}

func TestClearChangesets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	one := createRepo(t, s, "one")
	two := createRepo(t, s, "two")

	now := time.Now().UTC()
	insertChangeset(t, s, one.ID, 1, "al", now,
		Change{Kind: KindAdd, Path: "a"})
	insertChangeset(t, s, two.ID, 1, "al", now,
		Change{Kind: KindAdd, Path: "b"})

	// Scoped clear only touches the targeted repository.
	require.NoError(t, s.ClearChangesets(ctx, &one.ID))

	count, err := s.CountChangesets(ctx, one.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = s.CountChangesets(ctx, two.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Unscoped clear removes everything.
	require.NoError(t, s.ClearChangesets(ctx, nil))

	count, err = s.CountChangesets(ctx, two.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestFindRepository(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := createRepo(t, s, "myrepo")

	byName, err := s.FindRepository(ctx, "myrepo")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, byName.ID)

	byID, err := s.FindRepository(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, byID.ID)

	_, err = s.FindRepository(ctx, "missing")
	require.Error(t, err)
}

func TestSeedUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SeedUsers(ctx, []config.SeedUser{
		{Login: "al", Password: "secret"},
	}))

	users, err := s.UsersByLogins(ctx, []string{"al"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(users[0].CryptedPassword), []byte("secret")))

	// Reseeding replaces the credential but keeps the id.
	require.NoError(t, s.SeedUsers(ctx, []config.SeedUser{
		{Login: "al", Password: "changed"},
	}))

	reseeded, err := s.UsersByLogins(ctx, []string{"al"})
	require.NoError(t, err)
	require.Len(t, reseeded, 1)
	assert.Equal(t, users[0].ID, reseeded[0].ID)
	require.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(reseeded[0].CryptedPassword), []byte("changed")))
}

func TestUsersWithActivePermission(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := createRepo(t, s, "myrepo")

	require.NoError(t, s.SeedUsers(ctx, []config.SeedUser{
		{Login: "al", Password: "x"},
		{Login: "bob", Password: "x"},
		{Login: "carol", Password: "x"},
	}))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)

	byLogin := make(map[string]User, len(users))
	for _, u := range users {
		byLogin[u.Login] = u
	}

	al, bob := byLogin["al"], byLogin["bob"]

	require.NoError(t, s.CreatePermission(ctx, &Permission{
		UserID: &al.ID, RepositoryID: repo.ID, Path: "trunk", Active: true,
	}))
	require.NoError(t, s.CreatePermission(ctx, &Permission{
		UserID: &bob.ID, RepositoryID: repo.ID, Path: "trunk", Active: false,
	}))
	// Anonymous grant carries no user.
	require.NoError(t, s.CreatePermission(ctx, &Permission{
		RepositoryID: repo.ID, Path: "trunk", Active: true,
	}))

	authorized, err := s.UsersWithActivePermission(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, authorized, 1)
	assert.Equal(t, "al", authorized[0].Login)
}

func TestRepositoriesForUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mirror := createRepo(t, s, "mirror")
	docs := createRepo(t, s, "docs")
	createRepo(t, s, "unrelated")

	require.NoError(t, s.SeedUsers(ctx, []config.SeedUser{
		{Login: "al", Password: "x"},
	}))

	users, err := s.UsersByLogins(ctx, []string{"al"})
	require.NoError(t, err)

	require.NoError(t, s.CreatePermission(ctx, &Permission{
		UserID: &users[0].ID, RepositoryID: mirror.ID, Path: "trunk", Active: true,
	}))
	require.NoError(t, s.CreatePermission(ctx, &Permission{
		UserID: &users[0].ID, RepositoryID: docs.ID, Path: "", Active: false,
	}))

	repos, err := s.RepositoriesForUser(ctx, users[0].ID)
	require.NoError(t, err)
	require.Len(t, repos, 2)

	names := []string{repos[0].Name, repos[1].Name}
	assert.ElementsMatch(t, []string{"mirror", "docs"}, names)
}

func TestUpdatePermissionStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := createRepo(t, s, "myrepo")

	require.NoError(t, s.SeedUsers(ctx, []config.SeedUser{
		{Login: "al", Password: "x"},
	}))

	users, err := s.UsersByLogins(ctx, []string{"al"})
	require.NoError(t, err)

	require.NoError(t, s.CreatePermission(ctx, &Permission{
		UserID: &users[0].ID, RepositoryID: repo.ID, Path: "trunk", Active: true,
	}))

	at := time.Date(2007, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t,
		s.UpdatePermissionStats(ctx, users[0].ID, repo.ID, "al", at, 42))

	perms, err := s.ActivePermissions(ctx, []uint{repo.ID})
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "al", perms[0].Author)
	assert.Equal(t, int64(42), perms[0].ChangesetsCount)
	require.NotNil(t, perms[0].LastChangedAt)
	assert.WithinDuration(t, at, *perms[0].LastChangedAt, time.Second)
}
