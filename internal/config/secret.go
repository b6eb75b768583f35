// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CREDENTIAL ENCRYPTION
// =============================================================================

// Credentials in the config file may be stored encrypted instead of in
// plaintext. Format: ENC:base64(salt|nonce|ciphertext). The key is
// derived from a passphrase with PBKDF2-SHA-256.

const (
	// EncryptedPrefix marks a config value as encrypted.
	EncryptedPrefix = "ENC:"

	// PassphraseEnv names the environment variable holding the
	// decryption passphrase.
	PassphraseEnv = "HEYHI_CONFIG_KEY"

	// SECURITY: AES-256-GCM with PBKDF2-SHA-256 key derivation.
	keySize          = 32
	nonceSize        = 12
	saltSize         = 32
	pbkdf2Iterations = 600000
)

var (
	// ErrNoPassphrase indicates an encrypted credential was found but
	// no passphrase is available.
	ErrNoPassphrase = errors.New("encrypted credential present but " + PassphraseEnv + " is not set")

	// ErrDecryptionFailed indicates a wrong passphrase or tampered data.
	ErrDecryptionFailed = errors.New("credential decryption failed")
)

// EncryptCredential encrypts plaintext with the passphrase and returns
// the ENC:-prefixed value for the config file.
func EncryptCredential(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	blob := make([]byte, 0, saltSize+nonceSize+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	return EncryptedPrefix + base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptCredential reverses EncryptCredential.
func DecryptCredential(value, passphrase string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrDecryptionFailed)
	}
	if len(blob) < saltSize+nonceSize+1 {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	sealed := blob[saltSize+nonceSize:]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// zeroBytes clears key material after use.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
