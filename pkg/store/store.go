package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/scmtools/revmirror/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for mirrored repository data.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Repositories. Rows are created by admin commands, read-only to the
	// sync engine.
	ListRepositories(ctx context.Context) ([]Repository, error)
	GetRepositoryByID(ctx context.Context, id uint) (*Repository, error)
	GetRepositoryByName(ctx context.Context, name string) (*Repository, error)
	FindRepository(ctx context.Context, idOrName string) (*Repository, error)
	CreateRepository(ctx context.Context, repo *Repository) error

	// Changesets.
	LastRecordedRevision(ctx context.Context, repositoryID uint) (int64, error)
	CountChangesets(ctx context.Context, repositoryID uint) (int64, error)
	ListChangesets(ctx context.Context, repositoryID uint) ([]Changeset, error)
	ListChanges(ctx context.Context, changesetID uint) ([]Change, error)
	ChangesetAuthors(ctx context.Context, repositoryID uint) (map[string]time.Time, error)
	ClearChangesets(ctx context.Context, repositoryID *uint) error

	// Users.
	ListUsers(ctx context.Context) ([]User, error)
	UsersByIDs(ctx context.Context, ids []uint) ([]User, error)
	UsersByLogins(ctx context.Context, logins []string) ([]User, error)
	UsersWithActivePermission(ctx context.Context, repositoryID uint) ([]User, error)
	RepositoriesForUser(ctx context.Context, userID uint) ([]Repository, error)
	SeedUsers(ctx context.Context, users []config.SeedUser) error

	// Permissions. Rows are created by the owning application; the sync
	// engine only maintains their denormalized fields.
	CreatePermission(ctx context.Context, perm *Permission) error
	ActivePermissions(ctx context.Context, repositoryIDs []uint) ([]Permission, error)
	UpdatePermissionStats(
		ctx context.Context,
		userID, repositoryID uint,
		author string,
		lastChangedAt time.Time,
		changesetsCount int64,
	) error

	// Begin opens an explicit transaction scope for the sync engine's
	// batched write path.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a manually committed transaction. Writes issued through it become
// durable only on Commit; the sync engine commits every batch-size
// revisions to bound transaction growth on long catch-up runs.
type Tx interface {
	CreateChangeset(cs *Changeset, changes []Change) error
	CountChangesets(repositoryID uint) (int64, error)
	UsersByLogins(logins []string) ([]User, error)
	UpdatePermissionStats(
		userID, repositoryID uint,
		author string,
		lastChangedAt time.Time,
		changesetsCount int64,
	) error
	Commit() error
	Rollback() error
}

// Compile-time interface checks.
var (
	_ Store = (*store)(nil)
	_ Tx    = (*tx)(nil)
)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Repository{},
		&Changeset{},
		&Change{},
		&User{},
		&Permission{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Repositories ---

func (s *store) ListRepositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	return repos, nil
}

func (s *store) GetRepositoryByID(
	ctx context.Context, id uint,
) (*Repository, error) {
	var repo Repository
	if err := s.db.WithContext(ctx).First(&repo, id).Error; err != nil {
		return nil, fmt.Errorf("getting repository by id: %w", err)
	}

	return &repo, nil
}

func (s *store) GetRepositoryByName(
	ctx context.Context, name string,
) (*Repository, error) {
	var repo Repository
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&repo).Error; err != nil {
		return nil, fmt.Errorf("getting repository by name: %w", err)
	}

	return &repo, nil
}

// FindRepository resolves a repository from a numeric id or a name.
func (s *store) FindRepository(
	ctx context.Context, idOrName string,
) (*Repository, error) {
	if id, err := strconv.ParseUint(idOrName, 10, 64); err == nil && id > 0 {
		return s.GetRepositoryByID(ctx, uint(id))
	}

	return s.GetRepositoryByName(ctx, idOrName)
}

func (s *store) CreateRepository(
	ctx context.Context, repo *Repository,
) error {
	if err := s.db.WithContext(ctx).Create(repo).Error; err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}

	return nil
}

// --- Changesets ---

// LastRecordedRevision returns the highest synced revision for a
// repository, or 0 when no changesets exist yet.
func (s *store) LastRecordedRevision(
	ctx context.Context, repositoryID uint,
) (int64, error) {
	var cs Changeset

	err := s.db.WithContext(ctx).
		Where("repository_id = ?", repositoryID).
		Order("revision DESC").
		First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("getting last recorded revision: %w", err)
	}

	return cs.Revision, nil
}

func (s *store) CountChangesets(
	ctx context.Context, repositoryID uint,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Changeset{}).
		Where("repository_id = ?", repositoryID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting changesets: %w", err)
	}

	return count, nil
}

func (s *store) ListChangesets(
	ctx context.Context, repositoryID uint,
) ([]Changeset, error) {
	var changesets []Changeset
	if err := s.db.WithContext(ctx).
		Where("repository_id = ?", repositoryID).
		Order("revision ASC").
		Find(&changesets).Error; err != nil {
		return nil, fmt.Errorf("listing changesets: %w", err)
	}

	return changesets, nil
}

func (s *store) ListChanges(
	ctx context.Context, changesetID uint,
) ([]Change, error) {
	var changes []Change
	if err := s.db.WithContext(ctx).
		Where("changeset_id = ?", changesetID).
		Order("id ASC").
		Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}

	return changes, nil
}

// ChangesetAuthors returns every author recorded for a repository with
// the most recent changed-at timestamp per author.
func (s *store) ChangesetAuthors(
	ctx context.Context, repositoryID uint,
) (map[string]time.Time, error) {
	var rows []Changeset
	if err := s.db.WithContext(ctx).
		Select("author", "changed_at").
		Where("repository_id = ?", repositoryID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing changeset authors: %w", err)
	}

	authors := make(map[string]time.Time, len(rows))
	for _, cs := range rows {
		if prev, ok := authors[cs.Author]; !ok || cs.ChangedAt.After(prev) {
			authors[cs.Author] = cs.ChangedAt
		}
	}

	return authors, nil
}

// ClearChangesets deletes the change rows for the targeted changesets and
// then the changesets themselves, forcing a full resync. A nil repository
// id targets every repository.
func (s *store) ClearChangesets(
	ctx context.Context, repositoryID *uint,
) error {
	changes := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true})
	changesets := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true})

	if repositoryID != nil {
		ids := s.db.WithContext(ctx).
			Model(&Changeset{}).
			Select("id").
			Where("repository_id = ?", *repositoryID)
		changes = changes.Where("changeset_id IN (?)", ids)
		changesets = changesets.Where("repository_id = ?", *repositoryID)
	}

	if err := changes.Delete(&Change{}).Error; err != nil {
		return fmt.Errorf("clearing changes: %w", err)
	}

	if err := changesets.Delete(&Changeset{}).Error; err != nil {
		return fmt.Errorf("clearing changesets: %w", err)
	}

	return nil
}

// --- Users ---

func (s *store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	return users, nil
}

func (s *store) UsersByIDs(
	ctx context.Context, ids []uint,
) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var users []User
	if err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("getting users by ids: %w", err)
	}

	return users, nil
}

func (s *store) UsersByLogins(
	ctx context.Context, logins []string,
) ([]User, error) {
	return usersByLogins(s.db.WithContext(ctx), logins)
}

// UsersWithActivePermission returns the users holding an active permission
// on the given repository.
func (s *store) UsersWithActivePermission(
	ctx context.Context, repositoryID uint,
) ([]User, error) {
	ids := s.db.WithContext(ctx).
		Model(&Permission{}).
		Distinct("user_id").
		Where("active = ? AND repository_id = ? AND user_id IS NOT NULL",
			true, repositoryID)

	var users []User
	if err := s.db.WithContext(ctx).
		Where("id IN (?)", ids).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("getting users with active permission: %w", err)
	}

	return users, nil
}

// RepositoriesForUser returns every repository the user holds a permission
// on.
func (s *store) RepositoriesForUser(
	ctx context.Context, userID uint,
) ([]Repository, error) {
	ids := s.db.WithContext(ctx).
		Model(&Permission{}).
		Distinct("repository_id").
		Where("user_id = ?", userID)

	var repos []Repository
	if err := s.db.WithContext(ctx).
		Where("id IN (?)", ids).
		Find(&repos).Error; err != nil {
		return nil, fmt.Errorf("getting repositories for user: %w", err)
	}

	return repos, nil
}

// SeedUsers upserts config-sourced users, hashing their passwords with
// bcrypt. Existing users keep their id; their credential is replaced.
func (s *store) SeedUsers(
	ctx context.Context, users []config.SeedUser,
) error {
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.Login, err)
		}

		result := s.db.WithContext(ctx).
			Where("login = ?", u.Login).
			Assign(User{CryptedPassword: string(hash)}).
			FirstOrCreate(&User{Login: u.Login, CryptedPassword: string(hash)})
		if result.Error != nil {
			return fmt.Errorf("seeding user %q: %w", u.Login, result.Error)
		}
	}

	s.log.WithField("count", len(users)).Info("Seeded users from config")

	return nil
}

// --- Permissions ---

func (s *store) CreatePermission(
	ctx context.Context, perm *Permission,
) error {
	if err := s.db.WithContext(ctx).Create(perm).Error; err != nil {
		return fmt.Errorf("creating permission: %w", err)
	}

	return nil
}

func (s *store) ActivePermissions(
	ctx context.Context, repositoryIDs []uint,
) ([]Permission, error) {
	if len(repositoryIDs) == 0 {
		return nil, nil
	}

	var perms []Permission
	if err := s.db.WithContext(ctx).
		Where("active = ? AND repository_id IN ?", true, repositoryIDs).
		Order("id ASC").
		Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("listing active permissions: %w", err)
	}

	return perms, nil
}

func (s *store) UpdatePermissionStats(
	ctx context.Context,
	userID, repositoryID uint,
	author string,
	lastChangedAt time.Time,
	changesetsCount int64,
) error {
	return updatePermissionStats(
		s.db.WithContext(ctx),
		userID, repositoryID, author, lastChangedAt, changesetsCount,
	)
}

// --- Transactions ---

func (s *store) Begin(ctx context.Context) (Tx, error) {
	db := s.db.WithContext(ctx).Begin()
	if db.Error != nil {
		return nil, fmt.Errorf("beginning transaction: %w", db.Error)
	}

	return &tx{db: db}, nil
}

type tx struct {
	db *gorm.DB
}

// CreateChangeset inserts one changeset row and its change rows, tagged
// with the new changeset's id.
func (t *tx) CreateChangeset(cs *Changeset, changes []Change) error {
	if err := t.db.Create(cs).Error; err != nil {
		return fmt.Errorf("creating changeset: %w", err)
	}

	for i := range changes {
		changes[i].ChangesetID = cs.ID
	}

	if len(changes) > 0 {
		if err := t.db.Create(&changes).Error; err != nil {
			return fmt.Errorf("creating changes: %w", err)
		}
	}

	return nil
}

func (t *tx) CountChangesets(repositoryID uint) (int64, error) {
	var count int64
	if err := t.db.
		Model(&Changeset{}).
		Where("repository_id = ?", repositoryID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting changesets: %w", err)
	}

	return count, nil
}

func (t *tx) UsersByLogins(logins []string) ([]User, error) {
	return usersByLogins(t.db, logins)
}

func (t *tx) UpdatePermissionStats(
	userID, repositoryID uint,
	author string,
	lastChangedAt time.Time,
	changesetsCount int64,
) error {
	return updatePermissionStats(
		t.db, userID, repositoryID, author, lastChangedAt, changesetsCount,
	)
}

func (t *tx) Commit() error {
	if err := t.db.Commit().Error; err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (t *tx) Rollback() error {
	if err := t.db.Rollback().Error; err != nil {
		return fmt.Errorf("rolling back transaction: %w", err)
	}

	return nil
}

// --- Shared query helpers ---

func usersByLogins(db *gorm.DB, logins []string) ([]User, error) {
	if len(logins) == 0 {
		return nil, nil
	}

	var users []User
	if err := db.
		Where("login IN ?", logins).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("getting users by logins: %w", err)
	}

	return users, nil
}

func updatePermissionStats(
	db *gorm.DB,
	userID, repositoryID uint,
	author string,
	lastChangedAt time.Time,
	changesetsCount int64,
) error {
	if err := db.
		Model(&Permission{}).
		Where("user_id = ? AND repository_id = ?", userID, repositoryID).
		Updates(map[string]any{
			"author":           author,
			"last_changed_at":  lastChangedAt,
			"changesets_count": changesetsCount,
		}).Error; err != nil {
		return fmt.Errorf("updating permission stats: %w", err)
	}

	return nil
}
