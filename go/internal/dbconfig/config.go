// Package dbconfig reads Postgres settings from the environment and opens
// database/sql handles with them.
package dbconfig

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"

	"github.com/mcdev12/typerace/go/internal/config"
)

type Config struct {
	URL string // DATABASE_URL; wins over the individual fields when set

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewConfigFromEnv reads DATABASE_URL or the DB_* variables.
func NewConfigFromEnv() Config {
	lifetime, err := time.ParseDuration(config.GetEnv("DB_CONN_MAX_LIFETIME", "30m"))
	if err != nil {
		lifetime = 30 * time.Minute
	}
	return Config{
		URL:             config.GetEnv("DATABASE_URL", ""),
		Host:            config.GetEnv("DB_HOST", "localhost"),
		Port:            config.GetEnvAsInt("DB_PORT", 5432),
		User:            config.GetEnv("DB_USER", "postgres"),
		Password:        config.GetEnv("DB_PASSWORD", "postgres"),
		Database:        config.GetEnv("DB_NAME", "typerace"),
		SSLMode:         config.GetEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    config.GetEnvAsInt("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    config.GetEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: lifetime,
	}
}

// DSN returns the connection URL used by lib/pq, pgx and golang-migrate.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Open connects with lib/pq, applies the pool limits and pings.
func (c Config) Open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
