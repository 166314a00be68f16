package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config selects the active storage backend and its settings. Exactly
// one backend serves a session; backends are never mixed at runtime.
type Config struct {
	Storage struct {
		// Driver is one of "pebble", "sqlite", "redis".
		Driver string `yaml:"driver"`
		Pebble struct {
			Path string `yaml:"path"`
		} `yaml:"pebble"`
		SQLite struct {
			DSN string `yaml:"dsn"`
		} `yaml:"sqlite"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file or env is given:
// an embedded pebble store under ./cache.
func Default() *Config {
	var c Config
	c.Storage.Driver = "pebble"
	c.Storage.Pebble.Path = "cache"
	c.Storage.SQLite.DSN = "cache.db"
	c.Storage.Redis.Addr = "localhost:6379"
	return &c
}

// Load reads the optional YAML file at path, then applies env var
// overrides on top. A `.env` file is honored if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	c.Storage.Driver = getEnv("CHATCACHE_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Pebble.Path = getEnv("CHATCACHE_PEBBLE_PATH", c.Storage.Pebble.Path)
	c.Storage.SQLite.DSN = getEnv("CHATCACHE_SQLITE_DSN", c.Storage.SQLite.DSN)
	c.Storage.Redis.Addr = getEnv("CHATCACHE_REDIS_ADDR", c.Storage.Redis.Addr)
	c.Storage.Redis.Password = getEnv("CHATCACHE_REDIS_PASSWORD", c.Storage.Redis.Password)
	c.Storage.Redis.DB = getEnvInt("CHATCACHE_REDIS_DB", c.Storage.Redis.DB)
	c.Logging.Level = getEnv("CHATCACHE_LOG_LEVEL", c.Logging.Level)

	switch c.Storage.Driver {
	case "pebble", "sqlite", "redis":
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
