package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendValkey   = "valkey"
	BackendSQL      = "sql"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config selects and configures the access store. The YAML sections sit at the
// top level of the service config file next to "server".
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Valkey   ValkeyConfig   `yaml:"valkey"`
	Database DatabaseConfig `yaml:"database"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	KeyPrefix    string `yaml:"key_prefix"`
	DialTimeout  string `yaml:"dial_timeout"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type ValkeyConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	KeyPrefix      string `yaml:"key_prefix"`
	ConnectTimeout string `yaml:"connect_timeout"`
	DisableCache   bool   `yaml:"disable_cache"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres. It is implied by the postgres and sqlite backends.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a libpq connection string for postgres.
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	LogLevel     string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{Backend: BackendMemory},
		Redis: RedisConfig{
			KeyPrefix:    "reportaccess:",
			DialTimeout:  "1s",
			ReadTimeout:  "1s",
			WriteTimeout: "1s",
		},
		Valkey: ValkeyConfig{
			KeyPrefix:      "reportaccess:",
			ConnectTimeout: "5s",
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "reportaccess.db",
			MaxOpenConns: 20,
			LogLevel:     "silent",
		},
	}
}

// DecodeFile overlays the YAML file at path onto v. A missing file is
// reported as (false, nil) so callers can fall back to defaults.
func DecodeFile(path string, v interface{}) (bool, error) {
	if path == "" {
		return false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ApplyEnv overlays REPORTACCESS_* variables and returns the names it used.
func (c *Config) ApplyEnv() ([]string, error) {
	var applied []string
	str := func(key string, dst *string) error {
		v, ok, err := EnvString(key)
		if err != nil || !ok {
			return err
		}
		*dst = v
		applied = append(applied, key)
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok, err := EnvInt(key)
		if err != nil || !ok {
			return err
		}
		*dst = v
		applied = append(applied, key)
		return nil
	}

	steps := []error{
		str(EnvPrefix+"STORE_BACKEND", &c.Store.Backend),
		str(EnvPrefix+"REDIS_ADDR", &c.Redis.Addr),
		str(EnvPrefix+"REDIS_PASSWORD", &c.Redis.Password),
		num(EnvPrefix+"REDIS_DB", &c.Redis.DB),
		str(EnvPrefix+"REDIS_KEY_PREFIX", &c.Redis.KeyPrefix),
		str(EnvPrefix+"VALKEY_ADDR", &c.Valkey.Addr),
		str(EnvPrefix+"VALKEY_PASSWORD", &c.Valkey.Password),
		num(EnvPrefix+"VALKEY_DB", &c.Valkey.DB),
		str(EnvPrefix+"VALKEY_KEY_PREFIX", &c.Valkey.KeyPrefix),
		str(EnvPrefix+"DATABASE_DRIVER", &c.Database.Driver),
		str(EnvPrefix+"DATABASE_DSN", &c.Database.DSN),
	}
	if err := errors.Join(steps...); err != nil {
		return nil, err
	}
	return applied, nil
}

// Normalize lowercases the backend name and folds the postgres/sqlite
// shorthands into the sql backend.
func (c *Config) Normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "", "inmemory", "in_memory":
		c.Store.Backend = BackendMemory
	case BackendPostgres, BackendSQLite:
		c.Database.Driver = c.Store.Backend
		c.Store.Backend = BackendSQL
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = BackendSQLite
	}
}

func (c Config) Validate() error {
	backend := c.Store.Backend
	return validation.Errors{
		"store": validation.ValidateStruct(&c.Store,
			validation.Field(&c.Store.Backend, validation.Required,
				validation.In(BackendMemory, BackendRedis, BackendValkey, BackendSQL)),
		),
		"redis": validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Addr, validation.When(backend == BackendRedis, validation.Required)),
			validation.Field(&c.Redis.DB, validation.Min(0)),
			validation.Field(&c.Redis.DialTimeout, durationRule),
			validation.Field(&c.Redis.ReadTimeout, durationRule),
			validation.Field(&c.Redis.WriteTimeout, durationRule),
		),
		"valkey": validation.ValidateStruct(&c.Valkey,
			validation.Field(&c.Valkey.Addr, validation.When(backend == BackendValkey, validation.Required)),
			validation.Field(&c.Valkey.DB, validation.Min(0)),
			validation.Field(&c.Valkey.ConnectTimeout, durationRule),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.In(BackendSQLite, BackendPostgres)),
			validation.Field(&c.Database.DSN, validation.When(backend == BackendSQL, validation.Required)),
			validation.Field(&c.Database.MaxOpenConns, validation.Min(0)),
			validation.Field(&c.Database.LogLevel, validation.In("", "silent", "error", "warn", "info")),
		),
	}.Filter()
}

var durationRule = validation.By(func(v interface{}) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return errors.New("must be a duration like 500ms or 2s")
	}
	return nil
})

// parseDuration treats an empty value as def.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
