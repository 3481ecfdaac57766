// Package config loads the layered agent configuration: built-in defaults,
// then the settings file at <user-config-dir>/tagent/settings.yaml, then
// TAGENT_-prefixed environment variables. Last writer wins.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the agent's startup configuration. All fields are read-only
// after startup.
type Config struct {
	// RootDirectory anchors every file operation.
	RootDirectory string `yaml:"root_directory"`
	// PublicKeyURL is a key-discovery endpoint to fetch the verification
	// key from when PublicKey is not set.
	PublicKeyURL string `yaml:"public_key_url"`
	// PublicKey is a PEM literal override for the verification key.
	PublicKey string `yaml:"public_key"`
	// Address is the bind host.
	Address string `yaml:"address"`
	// Port is the bind TCP port.
	Port int `yaml:"port"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// FilesPolicyEnforced gates whether file operations consult the
	// decision engine in addition to extracting identity.
	FilesPolicyEnforced bool `yaml:"files_policy_enforced"`
	// DatabasePath is the SQLite file backing the ACL store. Settable only
	// through the DATABASE_URL environment variable.
	DatabasePath string `yaml:"-"`
}

// Default returns the built-in configuration. The root directory falls back
// to the user's home directory, then the working directory.
func Default() Config {
	root, err := os.UserHomeDir()
	if err != nil {
		root = "."
	}
	return Config{
		RootDirectory:       root,
		Address:             "127.0.0.1",
		Port:                8080,
		LogLevel:            "info",
		FilesPolicyEnforced: true,
		DatabasePath:        "tagent.db",
	}
}

// Load builds the configuration from defaults, the settings file, and the
// environment.
func Load() (Config, error) {
	path := ""
	if dir, err := os.UserConfigDir(); err == nil {
		path = filepath.Join(dir, "tagent", "settings.yaml")
	}
	return load(path)
}

func load(settingsPath string) (Config, error) {
	c := Default()

	if settingsPath != "" {
		data, err := os.ReadFile(settingsPath)
		switch {
		case err == nil:
			// Unmarshal into the defaults so absent keys keep their values.
			if err := yaml.Unmarshal(data, &c); err != nil {
				return Config{}, fmt.Errorf("parsing settings file %s: %w", settingsPath, err)
			}
		case os.IsNotExist(err):
			// settings file is optional
		default:
			return Config{}, fmt.Errorf("reading settings file %s: %w", settingsPath, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("TAGENT_ROOT_DIRECTORY"); ok {
		c.RootDirectory = v
	}
	if v, ok := os.LookupEnv("TAGENT_PUBLIC_KEY_URL"); ok {
		c.PublicKeyURL = v
	}
	if v, ok := os.LookupEnv("TAGENT_PUBLIC_KEY"); ok {
		c.PublicKey = v
	}
	if v, ok := os.LookupEnv("TAGENT_ADDRESS"); ok {
		c.Address = v
	}
	if v, ok := os.LookupEnv("TAGENT_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TAGENT_PORT must be an integer, got %q", v)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv("TAGENT_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("TAGENT_FILES_POLICY_ENFORCED"); ok {
		enforced, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TAGENT_FILES_POLICY_ENFORCED must be a boolean, got %q", v)
		}
		c.FilesPolicyEnforced = enforced
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		c.DatabasePath = v
	}
	return nil
}
