// Package config holds process-wide defaults for the control root, PTY
// sizing, and adapter timeouts, loaded from flags and environment the way
// the teacher's own config package does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is shared by the CLI and the HTTP/JSON API adapter.
type Config struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`

	ControlRoot string `mapstructure:"control_root"`

	DefaultCols int    `mapstructure:"default_cols"`
	DefaultRows int    `mapstructure:"default_rows"`
	DefaultTerm string `mapstructure:"default_term"`

	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// DefaultConfig returns the built-in fallback configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Port:        4021,
		Host:        "",
		ControlRoot: filepath.Join(homeDir, ".ttyfwd", "control"),

		DefaultCols: 80,
		DefaultRows: 24,
		DefaultTerm: "xterm-256color",

		CleanupInterval: 5 * time.Minute,
		RequestTimeout:  10 * time.Second,
	}
}

// LoadFromEnv overlays environment variables onto c, leaving any field
// without a corresponding variable untouched.
func (c *Config) LoadFromEnv() {
	if port := os.Getenv("TTYFWD_PORT"); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &c.Port); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: invalid TTYFWD_PORT value: %s\n", port)
		}
	}
	if root := os.Getenv("TTYFWD_CONTROL_ROOT"); root != "" {
		c.ControlRoot = root
	}
	if term := os.Getenv("TTYFWD_DEFAULT_TERM"); term != "" {
		c.DefaultTerm = term
	}
}

// Validate checks the fields a real process needs before it can start
// serving sessions.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port: %d", c.Port)
	}
	if c.DefaultCols < 1 || c.DefaultCols > 1000 {
		return fmt.Errorf("config: invalid default columns: %d", c.DefaultCols)
	}
	if c.DefaultRows < 1 || c.DefaultRows > 1000 {
		return fmt.Errorf("config: invalid default rows: %d", c.DefaultRows)
	}
	if c.ControlRoot == "" {
		return fmt.Errorf("config: control root is required")
	}
	return nil
}

// EnsureControlRoot creates the control root directory if it doesn't
// already exist.
func (c *Config) EnsureControlRoot() error {
	return os.MkdirAll(c.ControlRoot, 0700)
}
