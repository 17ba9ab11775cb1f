package config

// Merge merges two configs, with the second one taking precedence.
func Merge(base, override *Config) *Config {
	result := *base
	result.ProtectedPaths = append([]string(nil), base.ProtectedPaths...)

	if override.Root != "" {
		result.Root = override.Root
	}
	if override.Format != "" {
		result.Format = override.Format
	}
	if override.Backend != "" {
		result.Backend = override.Backend
	}
	if override.SQLitePath != "" {
		result.SQLitePath = override.SQLitePath
	}
	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}
	if override.ProtectedPaths != nil {
		result.ProtectedPaths = append([]string(nil), override.ProtectedPaths...)
	}
	if override.Checkpoints.Keep != 0 {
		result.Checkpoints.Keep = override.Checkpoints.Keep
	}
	return &result
}
