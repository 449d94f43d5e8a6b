// Package config loads tracksync settings from a config file, TRACKSYNC_*
// environment variables and an optional .env file.
//
// Lookup order for the file is the --config flag, then tracksync.{toml,yaml}
// in the working directory, then $HOME/.config/tracksync. Environment
// variables override the file; a key such as mongo.uri maps to
// TRACKSYNC_MONGO_URI.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
)

type Config struct {
	User      UserConfig      `mapstructure:"user"`
	Store     StoreConfig     `mapstructure:"store"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Operation OperationConfig `mapstructure:"operation"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Inbox     InboxConfig     `mapstructure:"inbox"`
	Blob      BlobConfig      `mapstructure:"blob"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type UserConfig struct {
	ID string `mapstructure:"id"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type OperationConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DashboardConfig enables the websocket feed when Port is non-zero.
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SnapshotConfig enables warm starts when Path is set.
type SnapshotConfig struct {
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

// InboxConfig enables the import directory when Dir is set.
type InboxConfig struct {
	Dir string `mapstructure:"dir"`
}

type BlobConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
}

// defaults doubles as the template written by WriteDefaults.
var defaults = map[string]map[string]any{
	"user":      {"id": ""},
	"store":     {"driver": DriverMemory},
	"mongo":     {"uri": "", "database": "tracksync", "timeout": "10s"},
	"breaker":   {"max_failures": 3, "timeout": "5s"},
	"operation": {"timeout": "30s"},
	"log":       {"level": "info", "file": "", "max_size_mb": 10, "max_backups": 3, "max_age_days": 28},
	"dashboard": {"host": "localhost", "port": 0},
	"snapshot":  {"path": "", "interval": "1m"},
	"inbox":     {"dir": ""},
	"blob":      {"dir": "", "base_url": ""},
}

// Load reads the configuration. path may be empty to use the search order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for section, keys := range defaults {
		for k, val := range keys {
			v.SetDefault(section+"."+k, val)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tracksync")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tracksync"))
		}
	}

	v.SetEnvPrefix("TRACKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri is required when store.driver is mongo")
		}
		if c.Mongo.Database == "" {
			return errors.New("mongo.database is required when store.driver is mongo")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (want %s or %s)", c.Store.Driver, DriverMemory, DriverMongo)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	if c.Snapshot.Path != "" && c.Snapshot.Interval < 0 {
		return errors.New("snapshot.interval cannot be negative")
	}
	return nil
}

// WriteDefaults writes the default configuration as TOML.
func WriteDefaults(w io.Writer) error {
	return Write(w, nil)
}

// Write writes the defaults with overrides applied as TOML. Override keys
// are dotted, e.g. "mongo.uri".
func Write(w io.Writer, overrides map[string]any) error {
	doc := make(map[string]map[string]any, len(defaults))
	for section, keys := range defaults {
		doc[section] = make(map[string]any, len(keys))
		for k, v := range keys {
			doc[section][k] = v
		}
	}
	for key, v := range overrides {
		section, name, ok := strings.Cut(key, ".")
		if !ok || doc[section] == nil {
			return fmt.Errorf("unknown config key %q", key)
		}
		if _, known := doc[section][name]; !known {
			return fmt.Errorf("unknown config key %q", key)
		}
		doc[section][name] = v
	}

	if _, err := io.WriteString(w, "# tracksync configuration\n\n"); err != nil {
		return err
	}
	if err := toml.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
