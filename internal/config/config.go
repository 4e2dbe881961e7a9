// Package config provides configuration management for the LLM Gate API
// server. It handles loading and parsing YAML configuration files and
// provides structured access to the server settings, the per-user
// configuration catalog (endpoints, api-types, presets, workflows), and
// generation presets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application's top-level configuration, loaded
// from a YAML file.
type Config struct {
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// User selects which user's configuration catalog is active.
	User string `yaml:"user"`

	// UsersDir is the directory holding one configuration catalog per user.
	UsersDir string `yaml:"users-dir"`

	// LoggingDir is the directory for request log files. The literal
	// "<user>" is replaced with the active user name.
	LoggingDir string `yaml:"logging-dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// ProxyURL is the URL of an optional proxy server for outbound
	// backend requests. Supports http, https and socks5 schemes.
	ProxyURL string `yaml:"proxy-url"`

	// APIKeys is a list of keys for authenticating clients to this
	// gateway. Empty means no authentication.
	APIKeys []string `yaml:"api-keys"`

	// RequestLog enables detailed request logging to files.
	RequestLog bool `yaml:"request-log"`

	// ConnectTimeoutSeconds bounds backend connection establishment.
	ConnectTimeoutSeconds int `yaml:"connect-timeout-seconds"`

	// ReadTimeoutSeconds bounds a whole backend exchange. Deliberately
	// very long: individual tokens may be minutes apart during prefill.
	ReadTimeoutSeconds int `yaml:"read-timeout-seconds"`

	// NonStreamRetries is the attempt count for non-streaming backend
	// calls.
	NonStreamRetries int `yaml:"non-stream-retries"`

	// LockDBPath is the bbolt database file holding workflow locks.
	LockDBPath string `yaml:"lock-db-path"`
}

// Defaults applied when the YAML omits a value.
const (
	DefaultConnectTimeoutSeconds = 30
	DefaultReadTimeoutSeconds    = 14400
	DefaultNonStreamRetries      = 3
)

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, applies defaults, and returns it.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.ConnectTimeoutSeconds <= 0 {
		config.ConnectTimeoutSeconds = DefaultConnectTimeoutSeconds
	}
	if config.ReadTimeoutSeconds <= 0 {
		config.ReadTimeoutSeconds = DefaultReadTimeoutSeconds
	}
	if config.NonStreamRetries <= 0 {
		config.NonStreamRetries = DefaultNonStreamRetries
	}
	if config.UsersDir == "" {
		config.UsersDir = "users"
	}
	if config.LockDBPath == "" {
		config.LockDBPath = "locks.db"
	}

	return &config, nil
}

// UserDir returns the configuration root of the active user.
func (c *Config) UserDir() string {
	return filepath.Join(c.UsersDir, c.User)
}

// ResolvedLoggingDir expands the "<user>" placeholder in LoggingDir.
func (c *Config) ResolvedLoggingDir() string {
	if c.LoggingDir == "" {
		return "logs"
	}
	return strings.ReplaceAll(c.LoggingDir, "<user>", c.User)
}
