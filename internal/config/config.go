package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	AppPort int

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	// PostgresDriver selects the database/sql driver: "pgx" or "postgres" (lib/pq).
	PostgresDriver string

	RedisEnabled  bool
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	ModuleCacheTTL time.Duration
	CachePrefix    string

	JWTSecret string

	AutoMigrate        bool
	EnforceForeignKeys bool
	UsersTable         string

	SeedOnStart     bool
	SeedAdminUserID uint
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "moduleaccess"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresDriver:   getEnv("POSTGRES_DRIVER", "pgx"),
		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		CachePrefix:      getEnv("CACHE_PREFIX", "moduleaccess:"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		UsersTable:       getEnv("USERS_TABLE", "users"),
	}

	var err error
	if cfg.AppPort, err = getEnvInt("APP_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.PostgresPort, err = getEnvInt("POSTGRES_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.RedisPort, err = getEnvInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisEnabled, err = getEnvBool("REDIS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate, err = getEnvBool("AUTO_MIGRATE", true); err != nil {
		return nil, err
	}
	if cfg.EnforceForeignKeys, err = getEnvBool("ENFORCE_FOREIGN_KEYS", false); err != nil {
		return nil, err
	}
	if cfg.SeedOnStart, err = getEnvBool("SEED_ON_START", false); err != nil {
		return nil, err
	}
	seedAdmin, err := getEnvInt("SEED_ADMIN_USER_ID", 0)
	if err != nil {
		return nil, err
	}
	if seedAdmin < 0 {
		return nil, fmt.Errorf("SEED_ADMIN_USER_ID must not be negative")
	}
	cfg.SeedAdminUserID = uint(seedAdmin)

	ttl := getEnv("MODULE_CACHE_TTL", "5m")
	if cfg.ModuleCacheTTL, err = time.ParseDuration(ttl); err != nil {
		return nil, fmt.Errorf("invalid MODULE_CACHE_TTL %q: %w", ttl, err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PostgresDriver != "pgx" && cfg.PostgresDriver != "postgres" {
		return nil, fmt.Errorf("invalid POSTGRES_DRIVER %q: want pgx or postgres", cfg.PostgresDriver)
	}
	if cfg.SeedOnStart && cfg.SeedAdminUserID == 0 {
		return nil, fmt.Errorf("SEED_ADMIN_USER_ID is required when SEED_ON_START is set")
	}

	return cfg, nil
}

// PostgresDSN returns the key/value connection string understood by both drivers.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
