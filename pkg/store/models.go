package store

import (
	"time"
)

// Change kind codes as recorded on Change rows.
const (
	KindAdd    = "A"
	KindModify = "M"
	KindMove   = "MV"
	KindCopy   = "CP"
	KindDelete = "D"
)

// Repository is a mirrored Subversion repository. Rows are created by the
// repo admin commands, never by the sync engine.
type Repository struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Path      string    `gorm:"not null" json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Changeset records one repository revision: who made it, when, and why.
// Revisions for a repository are contiguous from the first synced revision.
type Changeset struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RepositoryID uint      `gorm:"uniqueIndex:idx_repo_revision;not null" json:"repository_id"`
	Revision     int64     `gorm:"uniqueIndex:idx_repo_revision;not null" json:"revision"`
	Author       string    `json:"author"`
	Message      string    `json:"message"`
	ChangedAt    time.Time `json:"changed_at"`
}

// Change is one path-level effect within a changeset. FromPath and
// FromRevision are set only for moves and copies.
type Change struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	ChangesetID  uint   `gorm:"index;not null" json:"changeset_id"`
	Kind         string `gorm:"not null" json:"kind"`
	Path         string `gorm:"not null" json:"path"`
	FromPath     string `json:"from_path,omitempty"`
	FromRevision int64  `json:"from_revision,omitempty"`
}

// User is an account authorized at the transport layer. CryptedPassword
// holds the hash written verbatim into the credential file.
type User struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Login           string    `gorm:"uniqueIndex;not null" json:"login"`
	CryptedPassword string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Permission grants a user (or anyone, when UserID is nil) read or
// read-write access to a path scope within a repository. Author,
// LastChangedAt and ChangesetsCount are denormalized by the sync engine's
// aggregation step.
type Permission struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          *uint      `gorm:"index" json:"user_id"`
	RepositoryID    uint       `gorm:"index;not null" json:"repository_id"`
	Path            string     `json:"path"`
	Active          bool       `gorm:"not null" json:"active"`
	FullAccess      bool       `gorm:"not null" json:"full_access"`
	Author          string     `json:"author"`
	LastChangedAt   *time.Time `json:"last_changed_at"`
	ChangesetsCount int64      `json:"changesets_count"`
}
