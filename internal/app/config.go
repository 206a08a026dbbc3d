package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables read by LoadConfig.
const EnvPrefix = "VISERA"

// EnvironmentProduction enables secure cookies, HSTS and the mandatory JWT secret.
const EnvironmentProduction = "production"

// Config represents the runtime configuration for the Visera backend.
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Email       EmailConfig       `mapstructure:"email"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Frontend    FrontendConfig    `mapstructure:"frontend"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction)
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CSRF            CSRFConfig      `mapstructure:"csrf"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// CSRFConfig controls CSRF protection middleware.
type CSRFConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RateLimitConfig bounds requests per client IP and route. The auth limit applies to the
// credential and verification endpoints on top of the global one.
type RateLimitConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Requests     int           `mapstructure:"requests"`
	AuthRequests int           `mapstructure:"auth_requests"`
	Window       time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Postgres        DBAuthConfig  `mapstructure:"postgres"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// CacheConfig selects the store backing rate-limit counters.
type CacheConfig struct {
	Driver string `mapstructure:"driver"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings     `mapstructure:"jwt"`
	Session SessionSettings `mapstructure:"session"`
	Cookie  CookieSettings  `mapstructure:"cookie"`
	OTP     OTPSettings     `mapstructure:"otp"`
}

// JWTSettings configures JWT access tokens. ExpireMinutes keeps the unit of the
// JWT_EXPIRE_MINUTES variable.
type JWTSettings struct {
	Secret               string        `mapstructure:"secret"`
	Issuer               string        `mapstructure:"issuer"`
	ExpireMinutes        int           `mapstructure:"expire_minutes"`
	EmailVerificationTTL time.Duration `mapstructure:"email_verification_ttl"`
}

// SessionSettings configures refresh tokens and session lifetimes.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshLength int           `mapstructure:"refresh_token_length"`
}

// CookieSettings configures the session cookies. MaxAge is in seconds; Secure accepts
// "auto", "true" or "false", where auto follows the environment.
type CookieSettings struct {
	Name        string `mapstructure:"name"`
	RefreshName string `mapstructure:"refresh_name"`
	MaxAge      int    `mapstructure:"max_age"`
	Domain      string `mapstructure:"domain"`
	Secure      string `mapstructure:"secure"`
	SameSite    string `mapstructure:"same_site"`
}

// OTPSettings configures emailed verification codes.
type OTPSettings struct {
	Length         int           `mapstructure:"length"`
	TTL            time.Duration `mapstructure:"ttl"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	Delivery string      `mapstructure:"delivery"`
	AppName  string      `mapstructure:"app_name"`
	SMTP     SMTPConfig  `mapstructure:"smtp"`
	Kafka    KafkaConfig `mapstructure:"kafka"`
}

// SMTPConfig defines SMTP dialer settings for sending email. UseTLS selects implicit TLS;
// when false the connection is upgraded with STARTTLS if the server offers it. Port 465
// always uses implicit TLS.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig defines the topic used to queue mail for the mailer worker.
type KafkaConfig struct {
	Brokers  []string      `mapstructure:"brokers"`
	Topic    string        `mapstructure:"topic"`
	GroupID  string        `mapstructure:"group_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	AllowedOriginRegex string   `mapstructure:"allowed_origin_regex"`
}

// FrontendConfig points at the web client that renders verification links.
type FrontendConfig struct {
	URL string `mapstructure:"url"`
}

// MaintenanceConfig controls the background cleanup scheduler.
type MaintenanceConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	AuditRetentionDays int  `mapstructure:"audit_retention_days"`
}

// legacyEnv maps configuration keys onto the unprefixed variable names deployments already use.
var legacyEnv = map[string]string{
	"environment":             "ENVIRONMENT",
	"server.port":             "PORT",
	"database.url":            "DATABASE_URL",
	"auth.jwt.secret":         "JWT_SECRET_KEY",
	"auth.jwt.expire_minutes": "JWT_EXPIRE_MINUTES",
	"auth.cookie.name":        "AUTH_COOKIE_NAME",
	"auth.cookie.max_age":     "AUTH_COOKIE_MAX_AGE",
	"email.smtp.host":         "SMTP_HOST",
	"email.smtp.port":         "SMTP_PORT",
	"email.smtp.username":     "SMTP_USER",
	"email.smtp.password":     "SMTP_PASSWORD",
	"email.smtp.from":         "SMTP_FROM_EMAIL",
	"frontend.url":            "FRONTEND_URL",
	"cors.allowed_origins":    "ALLOWED_ORIGINS",
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// Values come from defaults, then config.yaml in the given paths, then .env files, then the
// environment.
func LoadConfig(paths ...string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	config.CORS.AllowedOrigins = normaliseList(config.CORS.AllowedOrigins)
	config.Email.Kafka.Brokers = normaliseList(config.Email.Kafka.Brokers)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Auth.JWT.ExpireMinutes <= 0 {
		return fmt.Errorf("config: auth.jwt.expire_minutes must be positive")
	}
	if c.Auth.Cookie.MaxAge < 0 {
		return fmt.Errorf("config: auth.cookie.max_age must not be negative")
	}
	switch c.Email.DeliveryMode() {
	case DeliverySMTP, DeliveryKafka, DeliveryDisabled:
	default:
		return fmt.Errorf("config: unsupported email.delivery %q", c.Email.Delivery)
	}
	switch c.Cache.DriverName() {
	case CacheDriverDatabase, CacheDriverMemory:
	default:
		return fmt.Errorf("config: unsupported cache.driver %q", c.Cache.Driver)
	}
	return nil
}

// loadDotEnv reads .env from the working directory when present. Variables already set in
// the environment win. VISERA_ENV_FILE names an alternative file, which must exist.
func loadDotEnv() error {
	if path := strings.TrimSpace(os.Getenv(EnvPrefix + "_ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("config: load env file %s: %w", path, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

func bindEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("config: bind %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.csrf.enabled", false)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.auth_requests", 10)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.url", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/visera.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "visera")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("cache.driver", CacheDriverDatabase)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "visera")
	v.SetDefault("auth.jwt.expire_minutes", 30)
	v.SetDefault("auth.jwt.email_verification_ttl", "24h")
	v.SetDefault("auth.session.refresh_token_ttl", "168h") // 7 days
	v.SetDefault("auth.session.refresh_token_length", 48)
	v.SetDefault("auth.cookie.name", "access_token")
	v.SetDefault("auth.cookie.refresh_name", "refresh_token")
	v.SetDefault("auth.cookie.max_age", 0)
	v.SetDefault("auth.cookie.domain", "")
	v.SetDefault("auth.cookie.secure", "auto")
	v.SetDefault("auth.cookie.same_site", "lax")
	v.SetDefault("auth.otp.length", 6)
	v.SetDefault("auth.otp.ttl", "15m")
	v.SetDefault("auth.otp.max_attempts", 5)
	v.SetDefault("auth.otp.resend_cooldown", "60s")

	v.SetDefault("email.delivery", "")
	v.SetDefault("email.app_name", "Visera")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.use_tls", false)
	v.SetDefault("email.smtp.timeout", "10s")
	v.SetDefault("email.kafka.brokers", []string{})
	v.SetDefault("email.kafka.topic", "visera.mail")
	v.SetDefault("email.kafka.group_id", "visera-mailer")
	v.SetDefault("email.kafka.username", "")
	v.SetDefault("email.kafka.password", "")
	v.SetDefault("email.kafka.use_tls", false)
	v.SetDefault("email.kafka.timeout", "10s")

	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("cors.allowed_origin_regex", `https://.*\.vercel\.app`)

	v.SetDefault("frontend.url", "http://localhost:3000")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.audit_retention_days", 90)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// normaliseList trims entries, drops empties and removes duplicates while keeping order.
func normaliseList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
