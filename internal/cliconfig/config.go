// Package cliconfig loads and saves the gocbanalytics-query CLI's TOML
// configuration file: a set of named cluster connections plus which one is
// current.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the CLI's on-disk configuration: a set of named connections,
// plus which one applies when --connection is not given on the command
// line.
type Config struct {
	Connections       map[string]*Connection `toml:"connections"`
	CurrentConnection string                  `toml:"current_connection"`

	path string
}

// Connection is one named cluster endpoint plus the credential to
// authenticate with it. Exactly one of Password or CertFile/KeyFile should
// be set; TrustOnlyNonProd mirrors the connection string's
// security.trust_only_non_prod parameter.
type Connection struct {
	ConnectionString string `toml:"connection_string"`
	Username         string `toml:"username,omitempty"`
	Password         string `toml:"password,omitempty"`
	CertFile         string `toml:"cert_file,omitempty"`
	KeyFile          string `toml:"key_file,omitempty"`
	TrustOnlyNonProd bool   `toml:"trust_only_non_prod,omitempty"`
}

// NewFromFile reads a Config from path, returning an empty Config (with
// path remembered for a later Save) if the file does not yet exist.
func NewFromFile(path string) (*Config, error) {
	_, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("check file permissions %q: %w", path, err)
	}

	c := &Config{
		Connections: map[string]*Connection{},
		path:        path,
	}
	if os.IsNotExist(err) {
		return c, nil
	}

	if err := c.Read(); err != nil {
		return nil, err
	}

	return c, nil
}

// Read re-reads the config file at c's path.
func (c *Config) Read() error {
	if _, err := toml.DecodeFile(c.path, c); err != nil {
		return fmt.Errorf("read config file %q: %w", c.path, err)
	}

	return nil
}

// Save writes c back to its path, creating the parent directory if needed.
func (c *Config) Save() error {
	dir, _ := filepath.Split(c.path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create config directory %q: %w", dir, err)
		}
	}

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("write config file %q: %w", c.path, err)
	}

	encoder := toml.NewEncoder(f)
	encoder.Indent = ""
	if err := encoder.Encode(c); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode config file %q: %w", c.path, err)
	}

	return f.Close()
}

// Resolve returns the named connection, or the current one when name is
// empty.
func (c *Config) Resolve(name string) (*Connection, error) {
	if name == "" {
		name = c.CurrentConnection
	}
	if name == "" {
		return nil, fmt.Errorf("no connection specified and no current_connection configured")
	}

	conn, ok := c.Connections[name]
	if !ok {
		return nil, fmt.Errorf("connection %q not found in config", name)
	}

	return conn, nil
}
