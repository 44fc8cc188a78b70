package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yuku/connpool"
	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/logging"
)

// Config is the YAML configuration of the check command.
type Config struct {
	// DatabaseURL is a pgx connection string. Empty means DATABASE_URL or
	// the PG* environment variables.
	DatabaseURL string         `yaml:"database_url"`
	Pool        PoolConfig     `yaml:"pool"`
	Eviction    EvictionConfig `yaml:"eviction"`
	Log         logging.Config `yaml:"log"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

// PoolConfig mirrors connpool.Config.
type PoolConfig struct {
	Name               string         `yaml:"name"`
	User               string         `yaml:"user"`
	Password           string         `yaml:"password"`
	ConnectionTimeout  time.Duration  `yaml:"connection_timeout"`
	IdleTimeout        time.Duration  `yaml:"idle_timeout"`
	LifetimeTimeout    time.Duration  `yaml:"lifetime_timeout"`
	ValidationTimeout  time.Duration  `yaml:"validation_timeout"`
	CorePoolSize       int32          `yaml:"core_pool_size"`
	MaxPoolSize        int32          `yaml:"max_pool_size"`
	StatementCacheSize int            `yaml:"statement_cache_size"`
	Defaults           DefaultsConfig `yaml:"defaults"`
}

// DefaultsConfig overrides captured session defaults. Omitted keys keep the
// server's values.
type DefaultsConfig struct {
	AutoCommit     *bool             `yaml:"auto_commit"`
	Isolation      *string           `yaml:"isolation"`
	ReadOnly       *bool             `yaml:"read_only"`
	Schema         *string           `yaml:"schema"`
	ClientInfo     map[string]string `yaml:"client_info"`
	NetworkTimeout *time.Duration    `yaml:"network_timeout"`
}

// EvictionConfig enables the LISTEN based soft eviction trigger.
type EvictionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Name:               "check",
			ConnectionTimeout:  5 * time.Second,
			ValidationTimeout:  5 * time.Second,
			CorePoolSize:       2,
			MaxPoolSize:        8,
			StatementCacheSize: 32,
		},
		Log: logging.Config{Level: "info", Encoding: "console"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. ${VAR} references are
// replaced with environment values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	content := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

var isolationLevels = map[string]driver.IsolationLevel{
	"none":             driver.IsolationNone,
	"read uncommitted": driver.IsolationReadUncommitted,
	"read committed":   driver.IsolationReadCommitted,
	"repeatable read":  driver.IsolationRepeatableRead,
	"serializable":     driver.IsolationSerializable,
}

// PoolConfig converts the YAML settings into a pool configuration without a
// connector.
func (c *Config) PoolConfig() (connpool.Config, error) {
	p := c.Pool
	conf := connpool.Config{
		Name:               p.Name,
		User:               p.User,
		Password:           p.Password,
		ConnectionTimeout:  p.ConnectionTimeout,
		IdleTimeout:        p.IdleTimeout,
		LifetimeTimeout:    p.LifetimeTimeout,
		ValidationTimeout:  p.ValidationTimeout,
		CorePoolSize:       p.CorePoolSize,
		MaxPoolSize:        p.MaxPoolSize,
		StatementCacheSize: p.StatementCacheSize,
		Defaults: connpool.Overrides{
			AutoCommit:     p.Defaults.AutoCommit,
			ReadOnly:       p.Defaults.ReadOnly,
			Schema:         p.Defaults.Schema,
			ClientInfo:     p.Defaults.ClientInfo,
			NetworkTimeout: p.Defaults.NetworkTimeout,
		},
	}
	if name := p.Defaults.Isolation; name != nil {
		level, ok := isolationLevels[strings.ToLower(strings.TrimSpace(*name))]
		if !ok {
			return connpool.Config{}, fmt.Errorf("unknown isolation level %q", *name)
		}
		conf.Defaults.Isolation = &level
	}
	return conf, nil
}
