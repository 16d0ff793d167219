package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabaseDriver is used when no database section is given.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default on-disk database location.
	DefaultSQLitePath = "./revmirror.db"

	// DefaultBatchSize is the number of revisions ingested per physical
	// transaction during a sync run.
	DefaultBatchSize = 100

	// DefaultConcurrency bounds how many repositories sync at once.
	DefaultConcurrency = 4

	// DefaultSvnlookBin is the svnlook binary resolved from PATH.
	DefaultSvnlookBin = "svnlook"

	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// REVMIRROR_DATABASE_DRIVER.
	EnvPrefix = "REVMIRROR"
)

// Config is the root configuration for revmirror.
type Config struct {
	LogLevel string         `yaml:"log_level" mapstructure:"log_level"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Sync     SyncConfig     `yaml:"sync" mapstructure:"sync"`
	SVN      SVNConfig      `yaml:"svn" mapstructure:"svn"`
	Authz    AuthzConfig    `yaml:"authz" mapstructure:"authz"`
	Htpasswd HtpasswdConfig `yaml:"htpasswd" mapstructure:"htpasswd"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Upload   *S3Config      `yaml:"upload,omitempty" mapstructure:"upload"`
	Users    []SeedUser     `yaml:"users,omitempty" mapstructure:"users"`
}

// DatabaseConfig selects and configures the relational store driver.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// SQLiteConfig configures the sqlite driver.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig configures the postgres driver.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
}

// SyncConfig contains revision sync engine settings.
type SyncConfig struct {
	BatchSize     int     `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxRevsPerSec float64 `yaml:"max_revs_per_sec" mapstructure:"max_revs_per_sec"`
}

// SVNConfig contains backend adapter settings.
type SVNConfig struct {
	Bin string `yaml:"bin" mapstructure:"bin"`
}

// AuthzConfig locates the generated access configuration file.
type AuthzConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// HtpasswdConfig locates the generated credential file. The path may
// contain a ":repo" placeholder substituted with the repository name when
// building per-repository files.
type HtpasswdConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CacheConfig locates the external render cache swept after each sync.
// An empty RenderDir disables the sweep.
type CacheConfig struct {
	RenderDir string `yaml:"render_dir" mapstructure:"render_dir"`
}

// S3Config configures optional artifact uploads to S3-compatible storage.
type S3Config struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty" mapstructure:"force_path_style"`
}

// SeedUser is a user upserted into the store by the seed command.
type SeedUser struct {
	Login    string `yaml:"login" mapstructure:"login"`
	Password string `yaml:"password" mapstructure:"password"`
}

// Load reads and parses a configuration file from the given path, applies
// REVMIRROR_* environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnvOverrides layers REVMIRROR_* environment variables over the
// file-sourced values, e.g. REVMIRROR_DATABASE_POSTGRES_PASSWORD.
func (c *Config) applyEnvOverrides() {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if s := v.GetString("log_level"); s != "" {
		c.LogLevel = s
	}

	if s := v.GetString("database.driver"); s != "" {
		c.Database.Driver = s
	}

	if s := v.GetString("database.sqlite.path"); s != "" {
		c.Database.SQLite.Path = s
	}

	if s := v.GetString("database.postgres.host"); s != "" {
		c.Database.Postgres.Host = s
	}

	if n := v.GetInt("database.postgres.port"); n != 0 {
		c.Database.Postgres.Port = n
	}

	if s := v.GetString("database.postgres.user"); s != "" {
		c.Database.Postgres.User = s
	}

	if s := v.GetString("database.postgres.password"); s != "" {
		c.Database.Postgres.Password = s
	}

	if s := v.GetString("database.postgres.database"); s != "" {
		c.Database.Postgres.Database = s
	}

	if n := v.GetInt("sync.batch_size"); n != 0 {
		c.Sync.BatchSize = n
	}

	if n := v.GetInt("sync.concurrency"); n != 0 {
		c.Sync.Concurrency = n
	}

	if f := v.GetFloat64("sync.max_revs_per_sec"); f != 0 {
		c.Sync.MaxRevsPerSec = f
	}

	if s := v.GetString("database.postgres.sslmode"); s != "" {
		c.Database.Postgres.SSLMode = s
	}

	if s := v.GetString("svn.bin"); s != "" {
		c.SVN.Bin = s
	}

	if s := v.GetString("authz.path"); s != "" {
		c.Authz.Path = s
	}

	if s := v.GetString("htpasswd.path"); s != "" {
		c.Htpasswd.Path = s
	}

	if s := v.GetString("cache.render_dir"); s != "" {
		c.Cache.RenderDir = s
	}

	c.applyUploadEnvOverrides(v)
}

// applyUploadEnvOverrides layers REVMIRROR_UPLOAD_* variables over the
// upload section. The section is created on demand so credentials can be
// supplied entirely through the environment.
func (c *Config) applyUploadEnvOverrides(v *viper.Viper) {
	if c.Upload == nil {
		if v.GetString("upload.bucket") == "" {
			return
		}

		c.Upload = &S3Config{}
	}

	overrides := map[string]*string{
		"upload.bucket":            &c.Upload.Bucket,
		"upload.prefix":            &c.Upload.Prefix,
		"upload.region":            &c.Upload.Region,
		"upload.endpoint_url":      &c.Upload.EndpointURL,
		"upload.access_key_id":     &c.Upload.AccessKeyID,
		"upload.secret_access_key": &c.Upload.SecretAccessKey,
	}

	for key, target := range overrides {
		if s := v.GetString(key); s != "" {
			*target = s
		}
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}

	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = DefaultConcurrency
	}

	if c.SVN.Bin == "" {
		c.SVN.Bin = DefaultSvnlookBin
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be positive")
	}

	if c.Upload != nil && c.Upload.Bucket == "" {
		return fmt.Errorf("upload.bucket is required when upload is configured")
	}

	for i, u := range c.Users {
		if u.Login == "" {
			return fmt.Errorf("users[%d].login is required", i)
		}
	}

	return nil
}
