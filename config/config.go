// Package config loads agentfile settings from .agentfile/config.yaml with
// environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"

	"github.com/TisoneK/agentfile-sub000/log"
	"github.com/TisoneK/agentfile-sub000/state"
)

// Default file locations, relative to the project root.
const (
	DirName  = ".agentfile"
	FileName = "config.yaml"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultSQLiteFile is the database file name used when the sqlite backend
// is selected without an explicit path.
const DefaultSQLiteFile = "agentfile.db"

// Config holds the settings for one project.
type Config struct {
	Root           string      `yaml:"root,omitempty" json:"root,omitempty"`
	Format         string      `yaml:"format,omitempty" json:"format,omitempty"`
	Backend        string      `yaml:"backend,omitempty" json:"backend,omitempty"`
	SQLitePath     string      `yaml:"sqlitePath,omitempty" json:"sqlitePath,omitempty"`
	Logging        Logging     `yaml:"logging,omitempty" json:"logging,omitempty"`
	ProtectedPaths []string    `yaml:"protectedPaths,omitempty" json:"protectedPaths,omitempty"`
	Checkpoints    Checkpoints `yaml:"checkpoints,omitempty" json:"checkpoints,omitempty"`
}

// Logging configures the logger.
type Logging struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"` // text or json
}

// Checkpoints configures checkpoint retention.
type Checkpoints struct {
	// Keep is how many checkpoints per workflow survive after a new one is
	// created. Zero keeps all of them.
	Keep int `yaml:"keep,omitempty" json:"keep,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Root:           ".",
		Format:         string(state.FormatJSON),
		Backend:        BackendFile,
		Logging:        Logging{Level: "warn", Format: log.FormatText},
		ProtectedPaths: []string{"**/.git/**"},
	}
}

// StateFormat returns the configured document format.
func (c *Config) StateFormat() state.Format {
	f, err := state.ParseFormat(c.Format)
	if err != nil {
		return state.FormatJSON
	}
	return f
}

// SQLiteFile returns the database path for the sqlite backend.
func (c *Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(state.Dir(c.Root), DefaultSQLiteFile)
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root must not be empty")
	}
	if _, err := state.ParseFormat(c.Format); err != nil {
		return err
	}
	switch c.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unsupported backend: %q", c.Backend)
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", log.FormatText, log.FormatJSON:
	default:
		return fmt.Errorf("unsupported log format: %q", c.Logging.Format)
	}
	for _, pattern := range c.ProtectedPaths {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid protected path pattern: %q", pattern)
		}
	}
	if c.Checkpoints.Keep < 0 {
		return fmt.Errorf("checkpoints.keep must not be negative")
	}
	return nil
}

// Save writes the configuration to a file. The file extension is used to
// determine the format:
// - .json -> JSON
// - .yml or .yaml -> YAML
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	case ".yml", ".yaml":
		data, err = yaml.Marshal(c)
	default:
		return fmt.Errorf("unsupported file extension: %s", ext)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Write writes the configuration to w in YAML format.
func (c *Config) Write(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(c)
}
