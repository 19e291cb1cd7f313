package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration from every source. Priority, lowest to
// highest:
//  1. built-in defaults
//  2. base.yaml
//  3. <environment>.yaml
//  4. local.yaml (development only)
//  5. environment variables
func Load() (*Config, error) {
	env := getEnvironment()

	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "config"
	}

	cfg := Default(env)
	sources := []string{"defaults"}

	for _, name := range layerNames(env) {
		path := filepath.Join(dir, name+".yaml")
		loaded, err := overlayFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if loaded {
			sources = append(sources, path)
		}
	}

	cfg.applyEnvironment()
	sources = append(sources, "environment")

	cfg.LoadedFrom = sources
	cfg.Version = "1.0.0"

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error. Use only from main.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func layerNames(env Environment) []string {
	names := []string{"base", strings.ToLower(string(env))}
	if env == Development {
		names = append(names, "local")
	}
	return names
}

// overlayFile decodes path on top of cfg. A missing file is not an error.
func overlayFile(path string, cfg *Config) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}
	return true, nil
}
