package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables that override file settings.
const (
	EnvRoot       = "AGENTFILE_ROOT"
	EnvFormat     = "AGENTFILE_FORMAT"
	EnvBackend    = "AGENTFILE_BACKEND"
	EnvSQLitePath = "AGENTFILE_SQLITE_PATH"
	EnvLogLevel   = "AGENTFILE_LOG_LEVEL"
	EnvLogFormat  = "AGENTFILE_LOG_FORMAT"
)

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Path returns the default config file location for a project root.
func Path(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// Load builds the effective configuration: defaults, then the config file,
// then environment overrides. With an empty path the default location
// under the project root is used and a missing file is not an error.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	// The root may come from the environment before the file is found.
	if root, ok := lookup(EnvRoot); ok && root != "" {
		cfg.Root = root
	}

	explicit := path != ""
	if !explicit {
		path = Path(cfg.Root)
	}
	fileCfg, err := ParseFile(path)
	switch {
	case err == nil:
		cfg = Merge(cfg, fileCfg)
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	cfg.ApplyEnv(lookup)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvRoot, &c.Root)
	set(EnvFormat, &c.Format)
	set(EnvBackend, &c.Backend)
	set(EnvSQLitePath, &c.SQLitePath)
	set(EnvLogLevel, &c.Logging.Level)
	set(EnvLogFormat, &c.Logging.Format)
}
