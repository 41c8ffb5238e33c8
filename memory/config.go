package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/sharedmem/store"
)

const (
	defaultHost          = "localhost"
	defaultPort          = 6379
	defaultPrefix        = "memory:"
	defaultTimeout       = 500 * time.Millisecond
	defaultFlushInterval = time.Second
	defaultObserver      = "slog"
)

// Config holds Memory initialization parameters. Durations accept Go
// duration strings ("250ms") in YAML.
type Config struct {
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`

	Prefix       string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Conversation string `json:"conversation,omitempty" yaml:"conversation,omitempty"`

	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`               // Per-call store timeout.
	FlushInterval time.Duration `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty"` // Reconciler tick.

	SpoolPath string `json:"spool_path,omitempty" yaml:"spool_path,omitempty"` // Empty keeps the queue in memory only.
	Observer  string `json:"observer,omitempty" yaml:"observer,omitempty"`     // Registry name.
}

// DefaultConfig returns the default configuration: a local Redis, the
// "memory:" prefix and the slog observer.
func DefaultConfig() Config {
	return Config{
		Host:          defaultHost,
		Port:          defaultPort,
		Prefix:        defaultPrefix,
		Timeout:       defaultTimeout,
		FlushInterval: defaultFlushInterval,
		Observer:      defaultObserver,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Host != "" {
		c.Host = source.Host
	}
	if source.Port > 0 {
		c.Port = source.Port
	}
	if source.Password != "" {
		c.Password = source.Password
	}
	if source.DB > 0 {
		c.DB = source.DB
	}
	if source.Prefix != "" {
		c.Prefix = source.Prefix
	}
	if source.Conversation != "" {
		c.Conversation = source.Conversation
	}
	if source.Timeout > 0 {
		c.Timeout = source.Timeout
	}
	if source.FlushInterval > 0 {
		c.FlushInterval = source.FlushInterval
	}
	if source.SpoolPath != "" {
		c.SpoolPath = source.SpoolPath
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// KeyPrefix returns the prefix every key of this configuration carries.
func (c *Config) KeyPrefix() string {
	if c.Conversation == "" {
		return c.Prefix
	}
	return c.Prefix + c.Conversation + ":"
}

// StoreConfig returns the Redis client settings.
func (c *Config) StoreConfig() *store.Config {
	return &store.Config{
		Host:         c.Host,
		Port:         c.Port,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.Timeout,
		ReadTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
	}
}

// LoadConfig reads a YAML (or JSON) config file, merges it with defaults,
// and returns the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
