package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Config contains database connection options.
type Config struct {
	Driver string
	URL    string // Connection URL such as postgres://... or sqlite:///path; selects the driver
	Path   string // SQLite database path when Driver == sqlite
	DSN    string // Optional DSN override

	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Options  map[string]string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open initialises a gorm.DB using the provided configuration.
func Open(cfg Config) (*gorm.DB, error) {
	cfg = resolveURL(cfg)

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite", "sqlite3":
		db, err = openSQLite(cfg)
	case "postgres", "postgresql":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := configurePool(db, cfg); err != nil {
		return nil, err
	}
	return db, nil
}

// resolveURL maps a DATABASE_URL style value onto the driver specific fields. SQLAlchemy
// scheme suffixes such as postgresql+psycopg2 are accepted and dropped.
func resolveURL(cfg Config) Config {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return cfg
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		cfg.DSN = raw
		return cfg
	}
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")

	switch base {
	case "postgres", "postgresql":
		cfg.Driver = "postgres"
		cfg.DSN = base + "://" + rest
	case "sqlite":
		cfg.Driver = "sqlite"
		// sqlite:///visera.db is relative, sqlite:////var/lib/visera.db absolute.
		cfg.Path = strings.TrimPrefix(rest, "/")
		cfg.DSN = ""
	default:
		cfg.DSN = raw
	}
	return cfg
}

func configurePool(db *gorm.DB, cfg Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

// Ping verifies the database connection is usable.
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
