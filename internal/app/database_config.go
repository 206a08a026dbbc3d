package app

import (
	"strings"

	"github.com/visera/backend/internal/database"
)

// ConnectionConfig converts DatabaseConfig into the database package representation.
// A DATABASE_URL style value takes precedence over the discrete fields.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver:          strings.TrimSpace(c.Driver),
		URL:             strings.TrimSpace(c.URL),
		Path:            strings.TrimSpace(c.Path),
		DSN:             strings.TrimSpace(c.DSN),
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}

	if strings.EqualFold(cfg.Driver, "postgres") || strings.EqualFold(cfg.Driver, "postgresql") {
		cfg.Host = c.Postgres.Host
		cfg.Port = c.Postgres.Port
		cfg.Name = c.Postgres.Database
		cfg.User = c.Postgres.Username
		cfg.Password = c.Postgres.Password
		if mode := strings.TrimSpace(c.Postgres.SSLMode); mode != "" {
			cfg.Options = map[string]string{"sslmode": mode}
		}
	}
	return cfg
}
