// Package config loads application configuration from environment
// variables, after merging a .env file when one is present.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/marketplace-api/internal/database"
	"github.com/iliyamo/marketplace-api/internal/security"
)

// Config holds all runtime configuration values.  It is built once in
// main and handed to constructors; nothing reads the environment later.
type Config struct {
	Env      string // APP_ENV (dev, test, prod)
	Port     string // APP_PORT
	LogLevel string // LOG_LEVEL (debug, info, warn, error)

	DBDriver    string // DB_DRIVER: mysql (default) or sqlite
	DBUser      string // DB_USER
	DBPass      string // DB_PASS (empty allowed)
	DBHost      string // DB_HOST
	DBPort      string // DB_PORT
	DBName      string // DB_NAME
	DBPath      string // DB_PATH, sqlite only
	AutoMigrate bool   // DB_AUTO_MIGRATE

	JWTAlg        string // JWT_ALG: HS256 (default), HS384, HS512, EdDSA
	JWTSecret     string // JWT_SECRET, HS* only, at least 32 bytes
	JWTPrivateKey string // JWT_PRIVATE_KEY, EdDSA only: base64 32-byte seed
	JWTIssuer     string // JWT_ISSUER, optional

	AccessTTL          time.Duration // ACCESS_TOKEN_TTL (15m)
	RefreshTTL         time.Duration // REFRESH_TOKEN_TTL (720h)
	BcryptCost         int           // BCRYPT_COST
	SweepInterval      time.Duration // SESSION_SWEEP_INTERVAL (1h, 0 disables)
	RevokeOnDeactivate bool          // SESSION_REVOKE_ON_DEACTIVATE (true)

	RabbitMQURL string // RABBITMQ_URL (or AMQP_URL); empty disables events
	EventLogDir string // EVENT_LOG_DIR (logs)

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// Load merges .env (if any) into the environment and reads the
// configuration.  Every missing or malformed required variable is
// reported in one error.
func Load() (Config, error) {
	_ = godotenv.Load()

	e := &env{}
	c := Config{
		Env:      envStr("APP_ENV", "dev"),
		Port:     e.must("APP_PORT"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		DBDriver:    strings.ToLower(envStr("DB_DRIVER", database.DriverMySQL)),
		AutoMigrate: envBool("DB_AUTO_MIGRATE", false),

		JWTAlg:    envStr("JWT_ALG", security.AlgHS256),
		JWTIssuer: envStr("JWT_ISSUER", ""),

		AccessTTL:          e.dur("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:         e.dur("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		BcryptCost:         e.mustInt("BCRYPT_COST"),
		SweepInterval:      e.dur("SESSION_SWEEP_INTERVAL", time.Hour),
		RevokeOnDeactivate: envBool("SESSION_REVOKE_ON_DEACTIVATE", true),

		RabbitMQURL: envStr("RABBITMQ_URL", envStr("AMQP_URL", "")),
		EventLogDir: envStr("EVENT_LOG_DIR", "logs"),

		Redis:     loadRedisConfig(),
		RateLimit: loadRateLimitConfig(),
		Cache:     loadCacheConfig(),
	}

	switch c.DBDriver {
	case database.DriverSQLite:
		c.DBPath = e.must("DB_PATH")
	default:
		c.DBUser = e.must("DB_USER")
		c.DBPass = envStr("DB_PASS", "")
		c.DBHost = e.must("DB_HOST")
		c.DBPort = e.must("DB_PORT")
		c.DBName = e.must("DB_NAME")
	}

	if strings.EqualFold(c.JWTAlg, security.AlgEdDSA) {
		c.JWTPrivateKey = e.must("JWT_PRIVATE_KEY")
	} else {
		c.JWTSecret = e.must("JWT_SECRET")
	}

	if len(e.problems) > 0 {
		return Config{}, errors.New("config: " + strings.Join(e.problems, "; "))
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports combinations that would only fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case database.DriverMySQL, database.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not mysql or sqlite", c.DBDriver))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("SESSION_SWEEP_INTERVAL must not be negative"))
	}
	if _, err := c.Issuer(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// Database returns the connection options for database.Open.
func (c Config) Database() database.Options {
	return database.Options{
		Driver: c.DBDriver,
		User:   c.DBUser,
		Pass:   c.DBPass,
		Host:   c.DBHost,
		Port:   c.DBPort,
		Name:   c.DBName,
		Path:   c.DBPath,
	}
}

// Issuer returns the token issuer settings, decoding the EdDSA key seed.
func (c Config) Issuer() (security.IssuerConfig, error) {
	ic := security.IssuerConfig{Algorithm: c.JWTAlg, Issuer: c.JWTIssuer}
	if strings.EqualFold(c.JWTAlg, security.AlgEdDSA) {
		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.JWTPrivateKey))
		if err != nil || len(seed) != ed25519.SeedSize {
			return security.IssuerConfig{}, errors.New("JWT_PRIVATE_KEY must be a base64 32-byte ed25519 seed")
		}
		ic.PrivateKey = ed25519.NewKeyFromSeed(seed)
		return ic, nil
	}
	if len(c.JWTSecret) < 32 {
		return security.IssuerConfig{}, errors.New("JWT_SECRET must be at least 32 bytes")
	}
	ic.Secret = []byte(c.JWTSecret)
	return ic, nil
}
