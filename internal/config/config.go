// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the application configuration from TOML with
// environment overrides and encrypted credential support.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/loopmaster303/heyhihosted-sub000/internal/gateway"
)

// DefaultFileName is the config file name inside the data directory.
const DefaultFileName = "config.toml"

// Config is the full application configuration.
type Config struct {
	Storage StorageConfig  `toml:"storage"`
	Chat    ChatConfig     `toml:"chat"`
	Title   TitleConfig    `toml:"title"`
	Targets []TargetConfig `toml:"targets"`
}

// StorageConfig locates the on-disk stores.
type StorageConfig struct {
	// Dir is the data directory; holds the key-value store and the
	// database file. Supports a leading "~".
	Dir string `toml:"dir"`

	// Database is the SQLite file name inside Dir.
	Database string `toml:"database"`
}

// ChatConfig holds chat defaults.
type ChatConfig struct {
	DefaultModel    string  `toml:"default_model"`
	DefaultStyle    string  `toml:"default_style"`
	SystemPrompt    string  `toml:"system_prompt"`
	UserDisplayName string  `toml:"user_display_name"`
	Temperature     float64 `toml:"temperature"`
	MaxTokens       int     `toml:"max_tokens"`
}

// TitleConfig configures the title generation endpoint.
type TitleConfig struct {
	Endpoint      string `toml:"endpoint"`
	Credential    string `toml:"credential"`
	CredentialEnv string `toml:"credential_env"`
}

// TargetConfig describes one completion backend, in fallback order.
type TargetConfig struct {
	Name     string `toml:"name"`
	Endpoint string `toml:"endpoint"`

	// Credential is the bearer token. Values starting with "ENC:" are
	// decrypted with the passphrase from HEYHI_CONFIG_KEY.
	Credential string `toml:"credential"`

	// CredentialEnv names an environment variable that overrides
	// Credential when set.
	CredentialEnv string `toml:"credential_env"`

	ModelMap map[string]string `toml:"model_map"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir:      "~/.heyhi",
			Database: "chat.db",
		},
		Chat: ChatConfig{
			DefaultModel: "openai",
		},
		Title: TitleConfig{
			CredentialEnv: "POLLINATIONS_API_TOKEN",
		},
		Targets: []TargetConfig{
			{
				Name:          "pollinations",
				Endpoint:      "https://text.pollinations.ai/openai",
				CredentialEnv: "POLLINATIONS_API_TOKEN",
			},
			{
				Name:          "mistral",
				Endpoint:      "https://api.mistral.ai/v1/chat/completions",
				CredentialEnv: "MISTRAL_API_KEY",
				ModelMap: map[string]string{
					"openai":        "mistral-small-latest",
					"openai-large":  "mistral-large-latest",
					"openai-fast":   "mistral-small-latest",
					"mistral":       "mistral-small-latest",
					"mistral-large": "mistral-large-latest",
				},
			},
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. Environment overrides and credential decryption
// are applied afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := cfg.resolveCredentials(); err != nil {
		return nil, err
	}

	cfg.Storage.Dir = ExpandHome(cfg.Storage.Dir)
	return cfg, nil
}

// resolveCredentials applies env overrides and decrypts ENC: values.
func (c *Config) resolveCredentials() error {
	resolve := func(credential, envName string) (string, error) {
		if envName != "" {
			if v := os.Getenv(envName); v != "" {
				credential = v
			}
		}
		if strings.HasPrefix(credential, EncryptedPrefix) {
			plain, err := DecryptCredential(credential, os.Getenv(PassphraseEnv))
			if err != nil {
				return "", err
			}
			return plain, nil
		}
		return credential, nil
	}

	var err error
	for i := range c.Targets {
		c.Targets[i].Credential, err = resolve(c.Targets[i].Credential, c.Targets[i].CredentialEnv)
		if err != nil {
			return fmt.Errorf("target %s: %w", c.Targets[i].Name, err)
		}
	}
	c.Title.Credential, err = resolve(c.Title.Credential, c.Title.CredentialEnv)
	if err != nil {
		return fmt.Errorf("title endpoint: %w", err)
	}
	return nil
}

// GatewayTargets converts the configured targets into gateway form,
// preserving order.
func (c *Config) GatewayTargets() []gateway.Target {
	targets := make([]gateway.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		targets = append(targets, gateway.Target{
			Name:       t.Name,
			Endpoint:   t.Endpoint,
			Credential: t.Credential,
			ModelMap:   t.ModelMap,
		})
	}
	return targets
}

// DatabasePath returns the absolute path of the SQLite file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.Dir, c.Storage.Database)
}

// KVDir returns the directory of the key-value store.
func (c *Config) KVDir() string {
	return filepath.Join(c.Storage.Dir, "kv")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
