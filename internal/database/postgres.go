package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultConnectTimeoutSeconds = "10"

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.New(postgres.Config{DSN: dsn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// buildPostgresDSN renders a libpq keyword/value connection string. An explicit DSN or URL wins
// over the discrete fields.
func buildPostgresDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}

	user := strings.TrimSpace(cfg.User)
	name := strings.TrimSpace(cfg.Name)
	if user == "" || name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	pairs := map[string]string{
		"sslmode":         "disable",
		"connect_timeout": defaultConnectTimeoutSeconds,
	}
	for key, value := range cfg.Options {
		key = strings.TrimSpace(key)
		if key != "" {
			pairs[key] = value
		}
	}

	params := []string{
		"host=" + quoteDSNValue(host),
		fmt.Sprintf("port=%d", port),
		"user=" + quoteDSNValue(user),
		"dbname=" + quoteDSNValue(name),
	}
	if cfg.Password != "" {
		params = append(params, "password="+quoteDSNValue(cfg.Password))
	}

	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		params = append(params, key+"="+quoteDSNValue(pairs[key]))
	}

	return strings.Join(params, " "), nil
}

// quoteDSNValue single-quotes values libpq would otherwise split or misread.
func quoteDSNValue(value string) string {
	if value != "" && !strings.ContainsAny(value, " '\\\t") {
		return value
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return "'" + escaped + "'"
}
