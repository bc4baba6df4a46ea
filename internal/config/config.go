// Package config loads labcontrol settings from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the complete application configuration.
type Config struct {
	Env         string      `yaml:"env"`
	Database    Database    `yaml:"database"`
	Transaction Transaction `yaml:"transaction"`
	Log         Log         `yaml:"log"`
	HTTP        HTTP        `yaml:"http"`
	Patches     Patches     `yaml:"patches"`
}

// Database selects and configures the backend.
type Database struct {
	Driver string `yaml:"driver"`

	// Postgres
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	AdminUser       string `yaml:"admin_user"`
	AdminPassword   string `yaml:"admin_password"`
	SSLMode         string `yaml:"sslmode"`
	MaxConns        int32  `yaml:"max_conns"`
	MinConns        int32  `yaml:"min_conns"`
	ApplicationName string `yaml:"application_name"`

	// SQLite
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
}

// Transaction tunes every tx.Transaction the process creates.
type Transaction struct {
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	Batching         bool          `yaml:"batching"`
}

// Log configures pkg/logger.
type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// HTTP configures the API server.
type HTTP struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Patches locates the schema patches.
type Patches struct {
	// Dir overrides the embedded patch set when non-empty.
	Dir       string `yaml:"dir"`
	AutoApply bool   `yaml:"auto_apply"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Env: "development",
		Database: Database{
			Driver:          DriverSQLite,
			Host:            "localhost",
			Port:            5432,
			Name:            "labcontrol",
			User:            "labcontrol",
			AdminUser:       "postgres",
			SSLMode:         "disable",
			MaxConns:        25,
			MinConns:        2,
			ApplicationName: "labcontrol",
			Path:            "data/labcontrol.db",
			BusyTimeout:     5000,
		},
		Transaction: Transaction{
			StatementTimeout: 30 * time.Second,
			Batching:         true,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
		HTTP: HTTP{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Patches: Patches{AutoApply: true},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with LABCONTROL_* variables.
func (c *Config) applyEnv() {
	c.Env = getEnv("APP_ENV", c.Env)

	db := &c.Database
	db.Driver = getEnv("LABCONTROL_DB_DRIVER", db.Driver)
	db.Host = getEnv("LABCONTROL_DB_HOST", db.Host)
	db.Port = getEnvInt("LABCONTROL_DB_PORT", db.Port)
	db.Name = getEnv("LABCONTROL_DB_NAME", db.Name)
	db.User = getEnv("LABCONTROL_DB_USER", db.User)
	db.Password = getEnv("LABCONTROL_DB_PASSWORD", db.Password)
	db.AdminUser = getEnv("LABCONTROL_DB_ADMIN_USER", db.AdminUser)
	db.AdminPassword = getEnv("LABCONTROL_DB_ADMIN_PASSWORD", db.AdminPassword)
	db.SSLMode = getEnv("LABCONTROL_DB_SSLMODE", db.SSLMode)
	db.Path = getEnv("LABCONTROL_DB_PATH", db.Path)

	c.Transaction.StatementTimeout = getEnvDuration("LABCONTROL_STATEMENT_TIMEOUT", c.Transaction.StatementTimeout)
	c.Transaction.Batching = getEnvBool("LABCONTROL_BATCHING", c.Transaction.Batching)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.HTTP.Port = getEnv("APP_PORT", c.HTTP.Port)

	c.Patches.Dir = getEnv("LABCONTROL_PATCHES_DIR", c.Patches.Dir)
	c.Patches.AutoApply = getEnvBool("LABCONTROL_AUTO_PATCH", c.Patches.AutoApply)
}

// Development reports whether logs should be human-oriented.
func (c *Config) Development() bool {
	return c.Env == "development"
}

// Validate checks the configuration for missing or contradictory values.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required for postgres"))
		}
		if c.Database.Name == "" {
			errs = append(errs, errors.New("database.name is required for postgres"))
		}
		if c.Database.User == "" {
			errs = append(errs, errors.New("database.user is required for postgres"))
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Errorf("database.port %d out of range", c.Database.Port))
		}
		if c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, errors.New("database.min_conns exceeds database.max_conns"))
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	if c.Transaction.StatementTimeout < 0 {
		errs = append(errs, errors.New("transaction.statement_timeout must not be negative"))
	}
	if _, err := strconv.Atoi(c.HTTP.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid http.port %q", c.HTTP.Port))
	}

	return errors.Join(errs...)
}

// DSN returns the connection string of the application database.
// For SQLite it is the database file path.
func (d Database) DSN() string {
	if d.Driver == DriverSQLite {
		return d.Path
	}
	return d.url(d.User, d.Password, d.Name)
}

// AdminDSN connects as the administrative user to the maintenance database,
// for creating the application database and role.
func (d Database) AdminDSN() string {
	if d.Driver == DriverSQLite {
		return d.Path
	}
	return d.url(d.AdminUser, d.AdminPassword, "postgres")
}

func (d Database) url(user, password, name string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + name,
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
