// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads and persists the layered application
// configuration: defaults, config file, environment, CLI flags.
package config // import "github.com/dreilach/certmaster/internal/config"

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Trust    TrustConfig    `mapstructure:"trust" yaml:"trust"`
	Language string         `mapstructure:"language" yaml:"language"`
	Debug    bool           `mapstructure:"debug" yaml:"debug"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen   string `mapstructure:"listen" yaml:"listen"`
	APIToken string `mapstructure:"api_token" yaml:"api_token"`
}

// TrustConfig configures trust-anchor deployment to managed hosts.
type TrustConfig struct {
	// Path is the remote TrustedUserCAKeys file location.
	Path string `mapstructure:"path" yaml:"path"`
}

// Defaults are the baseline values applied before any file, env or flag.
func Defaults() map[string]any {
	return map[string]any{
		"database.type": "sqlite",
		"database.dsn":  "./certmaster.db",
		"server.listen": "127.0.0.1:8440",
		"trust.path":    "/etc/ssh/certmaster_user_ca.pub",
		"language":      "en",
	}
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		// System-wide configuration paths
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Certmaster")
		default: // Linux, macOS, etc.
			configDir = "/etc/certmaster"
		}
	} else {
		// User-specific configuration paths
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "certmaster")
	}

	return filepath.Join(configDir, "certmaster.yaml"), nil
}

// LoadConfig resolves the configuration for a command invocation.
// Precedence, lowest to highest: defaults, config file (explicit --config
// path wins over discovered locations), CERTMASTER_* environment
// variables, bound CLI flags.
func LoadConfig(cmd *cobra.Command, defaults map[string]any, configFilePath *string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("certmaster")
	v.SetConfigType("yaml")

	// Explicit --config flag has the highest precedence for file-based
	// configuration.
	if configFilePath != nil {
		v.SetConfigFile(*configFilePath)
	}

	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".") // Look for certmaster.yaml in current dir

	// A missing config file is not fatal: resolution continues on
	// defaults, env and flags, and the not-found error is handed back so
	// callers can decide to write a default file.
	var notFound error
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			notFound = err
		} else {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("certmaster")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, notFound
}

// WriteConfigFile persists the configuration as YAML to the user or
// system config path.
func WriteConfigFile(c *Config, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file may contain the API token.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	return nil
}
