// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Chat.DefaultModel)
	require.Len(t, cfg.Targets, 2)
	require.Equal(t, "pollinations", cfg.Targets[0].Name, "fallback order must be stable")
	require.Equal(t, "mistral", cfg.Targets[1].Name)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
dir = "`+dir+`"
database = "custom.db"

[chat]
default_model = "mistral"
user_display_name = "Ada"

[title]
endpoint = "https://example.test/title"

[[targets]]
name = "only"
endpoint = "https://example.test/openai"
credential = "plain-token"

[targets.model_map]
openai = "vendor-model"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "mistral", cfg.Chat.DefaultModel)
	require.Equal(t, "Ada", cfg.Chat.UserDisplayName)
	require.Len(t, cfg.Targets, 1)
	require.Equal(t, "plain-token", cfg.Targets[0].Credential)
	require.Equal(t, filepath.Join(dir, "custom.db"), cfg.DatabasePath())

	gts := cfg.GatewayTargets()
	require.Len(t, gts, 1)
	require.Equal(t, "vendor-model", gts[0].ModelMap["openai"])
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[targets]]
name = "env"
endpoint = "https://example.test"
credential = "from-file"
credential_env = "HEYHI_TEST_TOKEN"
`), 0644))

	t.Setenv("HEYHI_TEST_TOKEN", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Targets[0].Credential)
}

func TestCredentialEncryptionRoundTrip(t *testing.T) {
	enc, err := EncryptCredential("sk-secret", "passphrase")
	require.NoError(t, err)
	require.Contains(t, enc, EncryptedPrefix)

	plain, err := DecryptCredential(enc, "passphrase")
	require.NoError(t, err)
	require.Equal(t, "sk-secret", plain)

	// Wrong passphrase
	_, err = DecryptCredential(enc, "wrong")
	require.True(t, errors.Is(err, ErrDecryptionFailed))

	// Missing passphrase
	_, err = DecryptCredential(enc, "")
	require.True(t, errors.Is(err, ErrNoPassphrase))

	// Plaintext passes through untouched
	plain, err = DecryptCredential("not-encrypted", "")
	require.NoError(t, err)
	require.Equal(t, "not-encrypted", plain)
}

func TestLoad_EncryptedCredential(t *testing.T) {
	enc, err := EncryptCredential("real-token", "hunter2")
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[targets]]
name = "enc"
endpoint = "https://example.test"
credential = "`+enc+`"
`), 0644))

	t.Setenv(PassphraseEnv, "hunter2")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "real-token", cfg.Targets[0].Credential)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".heyhi"), ExpandHome("~/.heyhi"))
	require.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}
