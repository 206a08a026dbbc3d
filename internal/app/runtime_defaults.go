package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/visera/backend/pkg/crypto"
)

const (
	jwtSecretBytes = 48
	minSecretBytes = 32
)

// ErrMissingJWTSecret is returned in production when no signing secret is configured.
var ErrMissingJWTSecret = errors.New("config: auth.jwt.secret (JWT_SECRET_KEY) is required in production")

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
// Production deployments must configure the JWT secret so tokens survive restarts.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		if cfg.IsProduction() {
			return nil, ErrMissingJWTSecret
		}
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	} else if cfg.IsProduction() && len(cfg.Auth.JWT.Secret) < minSecretBytes {
		return nil, fmt.Errorf("config: auth.jwt.secret must be at least %d bytes in production", minSecretBytes)
	}

	return generated, nil
}
