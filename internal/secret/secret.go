// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secret seals small values (the API key) for storage at rest.
//
// A random machine key lives next to the settings file with 0600
// permissions. The AES-256-GCM key is derived from it with PBKDF2-SHA-256,
// so copying only the settings file to another machine does not leak the
// API key.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/llmchat/internal/util"
	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// SealedPrefix marks a sealed value (format: ENC:base64(nonce|ciphertext|tag)).
const SealedPrefix = "ENC:"

// KeyFileName is the machine key file inside the state directory.
const KeyFileName = "secret.key"

const (
	keySize    = 32
	saltSize   = 32
	nonceSize  = 12
	iterations = 100000
)

var (
	// ErrMalformed indicates a sealed value that cannot be decoded.
	ErrMalformed = errors.New("malformed sealed value")

	// ErrOpenFailed indicates the value was sealed with a different key or tampered with.
	ErrOpenFailed = errors.New("cannot open sealed value: authentication failed")
)

// =============================================================================
// SEALER
// =============================================================================

// Sealer seals and opens strings with a key bound to one state directory.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer loads the machine key from dir, creating it on first use.
func NewSealer(dir string) (*Sealer, error) {
	master, salt, err := loadOrCreateKey(filepath.Join(dir, KeyFileName))
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key(master, salt, iterations, keySize, sha256.New)
	defer zero(key)
	zero(master)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plain. Empty input stays empty so an unset key reads as unset.
func (s *Sealer) Seal(plain string) (string, error) {
	if plain == "" || IsSealed(plain) {
		return plain, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a sealed value. Values without the prefix pass through so
// plaintext settings files keep working.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil || len(raw) < nonceSize+s.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// =============================================================================
// KEY FILE
// =============================================================================

// loadOrCreateKey reads "hex(master):hex(salt)" from path, generating it if absent.
func loadOrCreateKey(path string) (master, salt []byte, err error) {
	data, err := os.ReadFile(path)
	if err == nil {
		parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
		if len(parts) == 2 {
			master, err1 := hex.DecodeString(parts[0])
			salt, err2 := hex.DecodeString(parts[1])
			if err1 == nil && err2 == nil && len(master) == keySize && len(salt) == saltSize {
				return master, salt, nil
			}
		}
		return nil, nil, fmt.Errorf("key file %s is corrupt", path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to read key file: %w", err)
	}

	master = make([]byte, keySize)
	salt = make([]byte, saltSize)
	if _, err := rand.Read(master); err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	encoded := hex.EncodeToString(master) + ":" + hex.EncodeToString(salt) + "\n"
	if err := util.AtomicWriteFileWithDir(path, []byte(encoded), 0600, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return master, salt, nil
}

// zero clears key material once it is no longer needed.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
