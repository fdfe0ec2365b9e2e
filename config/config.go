// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Secrets SecretsConfig `yaml:"secrets"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	BaseURL         string        `yaml:"base_url"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Type     string         `yaml:"type"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   FileConfig     `yaml:"sqlite"`
	Bolt     FileConfig     `yaml:"bolt"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	URL         string `yaml:"url"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	Consume     string `yaml:"consume"` // conditional or lock
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type FileConfig struct {
	Path string `yaml:"path"`
}

type SecretsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type SweepConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Driver    string        `yaml:"driver"` // ticker or river
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	// LevelEndpoint mounts GET/PUT /log/level for runtime level changes.
	LevelEndpoint bool `yaml:"level_endpoint"`
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreBolt     = "bolt"

	SweepTicker = "ticker"
	SweepRiver  = "river"
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			CORSOrigin:      "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Type: StoreMemory,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       0,
			},
			Postgres: PostgresConfig{
				MaxConns:    20,
				MinConns:    2,
				Consume:     "conditional",
				AutoMigrate: true,
			},
			SQLite: FileConfig{Path: "data/secrets.sqlite"},
			Bolt:   FileConfig{Path: "data/secrets.db"},
		},
		Secrets: SecretsConfig{
			TTL: 1 * time.Hour,
		},
		Sweep: SweepConfig{
			Enabled:   true,
			Driver:    SweepTicker,
			Interval:  5 * time.Minute,
			Retention: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGIN"); v != "" {
		c.Server.CORSOrigin = v
	}
	envDuration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	// Store
	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.Postgres.URL = v
	}
	if v := os.Getenv("DATABASE_CONSUME"); v != "" {
		c.Store.Postgres.Consume = v
	}
	if v := os.Getenv("DATABASE_AUTO_MIGRATE"); v != "" {
		c.Store.Postgres.AutoMigrate = v == "true" || v == "1"
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Store.SQLite.Path = v
	}
	if v := os.Getenv("BOLT_PATH"); v != "" {
		c.Store.Bolt.Path = v
	}

	// Secrets
	envDuration("SECRET_TTL", &c.Secrets.TTL)

	// Sweep
	if v := os.Getenv("SWEEP_ENABLED"); v != "" {
		c.Sweep.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SWEEP_DRIVER"); v != "" {
		c.Sweep.Driver = v
	}
	envDuration("SWEEP_INTERVAL", &c.Sweep.Interval)
	envDuration("SWEEP_RETENTION", &c.Sweep.Retention)

	// Log
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("LOG_LEVEL_ENDPOINT"); v != "" {
		c.Log.LevelEndpoint = v == "true" || v == "1"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required when store type is 'redis'")
		}
	case StorePostgres:
		if c.Store.Postgres.URL == "" {
			return fmt.Errorf("postgres url is required when store type is 'postgres'")
		}
		if c.Store.Postgres.Consume != "conditional" && c.Store.Postgres.Consume != "lock" {
			return fmt.Errorf("invalid postgres consume strategy: %s (must be 'conditional' or 'lock')", c.Store.Postgres.Consume)
		}
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required when store type is 'sqlite'")
		}
	case StoreBolt:
		if c.Store.Bolt.Path == "" {
			return fmt.Errorf("bolt path is required when store type is 'bolt'")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be one of memory, redis, postgres, sqlite, bolt)", c.Store.Type)
	}

	if c.Secrets.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if c.Sweep.Enabled {
		if c.Sweep.Interval <= 0 {
			return fmt.Errorf("sweep interval must be positive")
		}
		if c.Sweep.Retention < 0 {
			return fmt.Errorf("sweep retention must not be negative")
		}
		switch c.Sweep.Driver {
		case SweepTicker:
		case SweepRiver:
			if c.Store.Type != StorePostgres {
				return fmt.Errorf("sweep driver 'river' requires store type 'postgres'")
			}
		default:
			return fmt.Errorf("invalid sweep driver: %s (must be 'ticker' or 'river')", c.Sweep.Driver)
		}
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
