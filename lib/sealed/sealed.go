// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts persisted credential blobs at rest with age
// (X25519). An [Identity] owns the private key in a [secret.Buffer];
// ciphertext is ASCII-armored so it survives text-oriented storage.
package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/boardhost/lib/secret"
)

// Identity is an age X25519 identity. Close it when done.
type Identity struct {
	key       *secret.Buffer
	recipient string
}

// GenerateIdentity creates a fresh identity.
func GenerateIdentity() (*Identity, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	key, err := secret.FromString(generated.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return &Identity{key: key, recipient: generated.Recipient().String()}, nil
}

// ParseIdentity takes ownership of key, which must hold an
// AGE-SECRET-KEY-1 string. On error key is closed.
func ParseIdentity(key *secret.Buffer) (*Identity, error) {
	parsed, err := age.ParseX25519Identity(string(bytes.TrimSpace(key.Bytes())))
	if err != nil {
		key.Close()
		return nil, fmt.Errorf("sealed: invalid identity: %w", err)
	}
	return &Identity{key: key, recipient: parsed.Recipient().String()}, nil
}

// LoadOrCreateIdentity reads the identity stored at path, generating
// and writing a new one (mode 0600) when the file does not exist.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := secret.New(data)
		if err != nil {
			return nil, fmt.Errorf("sealed: %s: %w", path, err)
		}
		return ParseIdentity(key)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("sealed: reading %s: %w", path, err)
	}

	identity, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		identity.Close()
		return nil, fmt.Errorf("sealed: %w", err)
	}
	if err := os.WriteFile(path, append(bytes.Clone(identity.key.Bytes()), '\n'), 0o600); err != nil {
		identity.Close()
		return nil, fmt.Errorf("sealed: writing %s: %w", path, err)
	}
	return identity, nil
}

// Recipient returns the public age1... string.
func (i *Identity) Recipient() string { return i.recipient }

// Close releases the private key.
func (i *Identity) Close() error { return i.key.Close() }

// Encrypt seals plaintext to every recipient and returns armored
// ciphertext.
func Encrypt(plaintext []byte, recipients ...string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, errors.New("sealed: at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, recipient := range recipients {
		value, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("sealed: recipient %q: %w", recipient, err)
		}
		parsed = append(parsed, value)
	}

	var out bytes.Buffer
	armored := armor.NewWriter(&out)
	writer, err := age.Encrypt(armored, parsed...)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	return out.Bytes(), nil
}

// Seal encrypts plaintext to this identity's own recipient.
func (i *Identity) Seal(plaintext []byte) ([]byte, error) {
	return Encrypt(plaintext, i.recipient)
}

// Open decrypts armored ciphertext. The caller should [secret.Zero] the
// result once it has been decoded.
func (i *Identity) Open(ciphertext []byte) ([]byte, error) {
	parsed, err := age.ParseX25519Identity(string(bytes.TrimSpace(i.key.Bytes())))
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(ciphertext)), parsed)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	return plaintext, nil
}
