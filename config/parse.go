package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

type decodeFunc func(data []byte) (*Config, error)

// decoderFor picks a decoder from a config file name.
func decoderFor(path string) (decodeFunc, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ParseJSON, nil
	case ".yml", ".yaml":
		return ParseYAML, nil
	case "":
		return nil, fmt.Errorf("config file %s has no extension", path)
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
}

// ParseFile reads and decodes a config file. JSON and YAML are accepted,
// selected by extension. Unknown keys are errors in both.
func ParseFile(path string) (*Config, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &Config{}, nil
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// ParseYAML decodes YAML config.
func ParseYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseJSON decodes JSON config. Trailing data after the object is rejected.
func ParseJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after config object")
	}
	return cfg, nil
}
