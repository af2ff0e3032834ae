package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "SQLGRID_"

// Settings is the resolved CLI configuration.
type Settings struct {
	Connection ConnectionConfig `koanf:"connection"`
	Definition string           `koanf:"definition"`
	Table      string           `koanf:"table"`
	State      string           `koanf:"state"`
	Output     string           `koanf:"output"`
	PageSize   int              `koanf:"page_size"`
	SentryDSN  string           `koanf:"sentry_dsn"`
	Verbose    bool             `koanf:"verbose"`
}

// connectionFlags are stored under the connection section.
var connectionFlags = map[string]bool{
	"driver":   true,
	"database": true,
	"host":     true,
	"port":     true,
	"username": true,
	"password": true,
}

// getConfigDir returns the configuration directory following XDG Base Directory spec
func getConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "sqlgrid"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	return filepath.Join(home, ".config", "sqlgrid"), nil
}

// getSettingsPath returns the full path to settings.yaml
func getSettingsPath() (string, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "settings.yaml"), nil
}

// LoadSettings layers defaults, the settings file, SQLGRID_* environment
// variables and explicitly set flags, in increasing priority. Nested keys
// use a double underscore in the environment: SQLGRID_CONNECTION__HOST.
func LoadSettings(flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"output":    "table",
		"page_size": 25,
		"verbose":   false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	settingsPath, err := getSettingsPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(settingsPath); err == nil {
		if err := k.Load(file.Provider(settingsPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading settings file %s: %w", settingsPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not stat settings file: %w", err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if connectionFlags[key] {
				key = "connection." + key
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unable to decode settings: %w", err)
	}
	return &s, nil
}
