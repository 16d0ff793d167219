package htpasswd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/scmtools/revmirror/pkg/config"
	"github.com/scmtools/revmirror/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.Len())
}

func TestLoadParsesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "htpasswd")
	require.NoError(t, os.WriteFile(path,
		[]byte("# managed by revmirror\nbob:hash1\ncarol:ha:sh2\n"), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	hash, ok := f.Get("bob")
	require.True(t, ok)
	assert.Equal(t, "hash1", hash)

	// Hashes may themselves contain colons; only the first splits.
	hash, ok = f.Get("carol")
	require.True(t, ok)
	assert.Equal(t, "ha:sh2", hash)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "htpasswd")
	require.NoError(t, os.WriteFile(path, []byte("no-separator\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestFlushWritesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "htpasswd")

	f, err := Load(path)
	require.NoError(t, err)

	f.Set("bob", "hash1")
	f.Set("carol", "hash2")
	f.Set("bob", "hash3")
	require.NoError(t, f.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bob:hash3\ncarol:hash2\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestExpandPath(t *testing.T) {
	assert.Equal(t, "/etc/svn/myrepo.htpasswd",
		ExpandPath("/etc/svn/:repo.htpasswd", "myrepo"))
	assert.Equal(t, "/etc/svn/htpasswd",
		ExpandPath("/etc/svn/htpasswd", "myrepo"))
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	s := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestBuildAllReplacesStaleEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SeedUsers(ctx, []config.SeedUser{
		{Login: "carol", Password: "new-secret"},
		{Login: "dave", Password: "x"},
	}))

	path := filepath.Join(t.TempDir(), "htpasswd")
	require.NoError(t, os.WriteFile(path,
		[]byte("bob:oldhash\ncarol:oldhash\n"), 0o600))

	log := logrus.New()
	log.SetOutput(io.Discard)
	require.NoError(t, NewBuilder(log, s).BuildAll(ctx, path))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	// bob is no longer authorized and must be gone.
	_, ok := f.Get("bob")
	assert.False(t, ok)

	// carol survives with her current hash, not the stale one.
	hash, ok := f.Get("carol")
	require.True(t, ok)
	assert.NotEqual(t, "oldhash", hash)

	_, ok = f.Get("dave")
	assert.True(t, ok)
}

func TestBuildForRepositoryScopesUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	repo := &store.Repository{Name: "myrepo", Path: "/repos/myrepo"}
	require.NoError(t, s.CreateRepository(ctx, repo))

	require.NoError(t, s.SeedUsers(ctx, []config.SeedUser{
		{Login: "al", Password: "x"},
		{Login: "outsider", Password: "x"},
	}))

	users, err := s.UsersByLogins(ctx, []string{"al"})
	require.NoError(t, err)

	require.NoError(t, s.CreatePermission(ctx, &store.Permission{
		UserID: &users[0].ID, RepositoryID: repo.ID, Path: "trunk", Active: true,
	}))

	dir := t.TempDir()
	template := filepath.Join(dir, ":repo.htpasswd")

	log := logrus.New()
	log.SetOutput(io.Discard)
	require.NoError(t, NewBuilder(log, s).BuildForRepository(ctx, repo, template))

	f, err := Load(filepath.Join(dir, "myrepo.htpasswd"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())

	_, ok := f.Get("al")
	assert.True(t, ok)
}
