// Package config loads the workbench configuration from
// ~/.config/sortbench/config.yaml. A commented default file is written on
// first run.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigYAML = `# sortbench configuration
version: 1

# SQLite database for saved curations and the cluster cache.
# Empty = ~/.local/share/sortbench/sortbench.db
db_path: ""

# Directory for the application log. Empty = alongside the database.
log_dir: ""

# WebSocket port for companion viewers. 0 disables the bridge.
bridge_port: 8777

# Maximum rows in the similarity pane.
similar_limit: 50

# Groups offered by the move menu. noise and mua are masked in the tables.
groups:
  - good
  - mua
  - noise
`

// Config models config.yaml.
type Config struct {
	Version      int      `yaml:"version"`
	DBPath       string   `yaml:"db_path"`
	LogDir       string   `yaml:"log_dir"`
	BridgePort   int      `yaml:"bridge_port"`
	SimilarLimit int      `yaml:"similar_limit"`
	Groups       []string `yaml:"groups"`
}

// DefaultPath returns the config file location:
// ~/.config/sortbench/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "sortbench", "config.yaml"), nil
}

// Load reads the config file, writing the commented default first when the
// file does not exist yet.
func Load(path string) (*Config, error) {
	if err := ensure(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Version:      1,
		BridgePort:   8777,
		SimilarLimit: 50,
		Groups:       []string{"good", "mua", "noise"},
	}
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.SimilarLimit == 0 {
		c.SimilarLimit = 50
	}
	if len(c.Groups) == 0 {
		c.Groups = []string{"good", "mua", "noise"}
	}
	for i := range c.Groups {
		c.Groups[i] = strings.ToLower(strings.TrimSpace(c.Groups[i]))
	}
}

func (c *Config) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.BridgePort < 0 || c.BridgePort > 65535 {
		return fmt.Errorf("bridge_port %d out of range", c.BridgePort)
	}
	if c.SimilarLimit < 0 {
		return fmt.Errorf("similar_limit must not be negative")
	}
	for _, g := range c.Groups {
		if g == "" {
			return fmt.Errorf("groups must not contain empty entries")
		}
	}
	return nil
}

func ensure(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
