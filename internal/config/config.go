// Package config loads the user-level streamtpl config file: age key
// material for encrypted variables files and output preferences.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/streamtpl/streamtpl/internal/ageutil"
)

// Config is the top-level config file structure.
type Config struct {
	Age    *AgeConfig `yaml:"age,omitempty"`
	Format string     `yaml:"format,omitempty"` // yaml (default) | json
}

// AgeConfig holds age key material. Passphrase may be a literal or an
// "env:NAME" reference resolved from the environment at load time.
type AgeConfig struct {
	IdentityFile string `yaml:"identity_file,omitempty"`
	Passphrase   string `yaml:"passphrase,omitempty"`
}

// DefaultPath returns the default config location,
// ~/.config/streamtpl/config.yml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "streamtpl", "config.yml")
}

// Load reads the config at path. When path is empty the default
// location is used and a missing file yields the zero config.
func Load(path string) (Config, error) {
	fallback := false
	if path == "" {
		path = DefaultPath()
		fallback = true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if fallback && os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	switch cfg.Format {
	case "", "yaml", "json":
	default:
		return Config{}, fmt.Errorf("%s: unknown format %q (want yaml or json)", path, cfg.Format)
	}
	return cfg, nil
}

// Key assembles the age key from the config plus the environment
// fallbacks STREAMTPL_AGE_IDENTITY and STREAMTPL_AGE_PASSPHRASE, the
// environment winning. Returns nil when no key material is configured.
func (c Config) Key() *ageutil.Key {
	identity := os.Getenv("STREAMTPL_AGE_IDENTITY")
	passphrase := os.Getenv("STREAMTPL_AGE_PASSPHRASE")
	if c.Age != nil {
		if identity == "" {
			identity = c.Age.IdentityFile
		}
		if passphrase == "" {
			passphrase = resolveEnvRef(c.Age.Passphrase)
		}
	}
	if identity == "" && passphrase == "" {
		return nil
	}
	return &ageutil.Key{IdentityFile: expandPath(identity), Passphrase: passphrase}
}

// resolveEnvRef expands an "env:NAME" passphrase reference.
func resolveEnvRef(s string) string {
	if name, ok := strings.CutPrefix(s, "env:"); ok {
		return os.Getenv(name)
	}
	return s
}

// expandPath expands a leading "~/" and environment variables in path.
func expandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}
