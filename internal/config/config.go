// Package config loads the server's TOML configuration file: the struct
// shape, a thin loader around a TOML library, defaulting for omitted
// optional fields, and ~-expansion of the working directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
)

// DefaultDatabasePath is used when the configuration omits "database".
const DefaultDatabasePath = "files.db"

// DefaultHost and DefaultPort are used when the configuration omits the
// [server] block, or fields within it.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 24146
)

// AuthEntry is one [[auth_entry]] table: a bearer token and the path
// prefixes it may access.
type AuthEntry struct {
	Token string   `toml:"token"`
	Path  []string `toml:"path"`
}

// Server is the optional [server] block.
type Server struct {
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
}

// Config is the full deserialized configuration file.
type Config struct {
	WorkingDirectory string      `toml:"working_directory"`
	Database         string      `toml:"database"`
	Server           Server      `toml:"server"`
	AuthEntries      []AuthEntry `toml:"auth_entry"`
}

// Bind returns the "host:port" string the HTTP server should listen on.
func (c *Config) Bind() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DatabasePath returns the configured database path, or DefaultDatabasePath
// if one was not specified.
func (c *Config) DatabasePath() string {
	if c.Database == "" {
		return DefaultDatabasePath
	}
	return c.Database
}

// AccessPoolEntries converts the configuration's auth entries into the
// token-to-prefixes map the access pool expects.
func (c *Config) AccessPoolEntries() map[string][]string {
	entries := make(map[string][]string, len(c.AuthEntries))
	for _, entry := range c.AuthEntries {
		entries[entry.Token] = entry.Path
	}
	return entries
}

// Load reads and parses the TOML configuration file at path, applying
// defaults for omitted optional fields and expanding a leading "~" in
// working_directory to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}

	cfg := &Config{
		Server: Server{Host: DefaultHost, Port: DefaultPort},
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", path, err)
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.WorkingDirectory == "" {
		return nil, fmt.Errorf("config: working_directory is required")
	}
	cfg.WorkingDirectory, err = expandHome(cfg.WorkingDirectory)
	if err != nil {
		return nil, fmt.Errorf("config: unable to expand working_directory: %w", err)
	}

	return cfg, nil
}

// expandHome expands a leading "~" or "~/..." to the current user's home
// directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
