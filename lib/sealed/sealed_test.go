// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer identity.Close()

	if !strings.HasPrefix(identity.Recipient(), "age1") {
		t.Errorf("Recipient() = %q, want age1 prefix", identity.Recipient())
	}

	plaintext := []byte(`{"access_token":"syt_secret"}`)
	ciphertext, err := identity.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("syt_secret")) {
		t.Fatal("ciphertext contains the plaintext token")
	}
	if !bytes.HasPrefix(ciphertext, []byte("-----BEGIN AGE ENCRYPTED FILE-----")) {
		t.Errorf("ciphertext is not armored: %q", ciphertext[:min(40, len(ciphertext))])
	}

	opened, err := identity.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open = %q, want %q", opened, plaintext)
	}
}

func TestOpenWithWrongIdentityFails(t *testing.T) {
	sender, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer sender.Close()
	other, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer other.Close()

	ciphertext, err := sender.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := other.Open(ciphertext); err == nil {
		t.Fatal("Open with a foreign identity succeeded")
	}
}

func TestEncryptValidatesRecipients(t *testing.T) {
	if _, err := Encrypt([]byte("x")); err == nil {
		t.Error("Encrypt with no recipients succeeded")
	}
	if _, err := Encrypt([]byte("x"), "not-a-key"); err == nil {
		t.Error("Encrypt with a malformed recipient succeeded")
	}
}

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.age")

	created, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (create): %v", err)
	}
	recipient := created.Recipient()
	ciphertext, err := created.Seal([]byte("persisted"))
	created.Close()
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("identity file mode = %o, want 600", info.Mode().Perm())
	}

	loaded, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (load): %v", err)
	}
	defer loaded.Close()
	if loaded.Recipient() != recipient {
		t.Errorf("reloaded recipient = %q, want %q", loaded.Recipient(), recipient)
	}
	opened, err := loaded.Open(ciphertext)
	if err != nil || string(opened) != "persisted" {
		t.Fatalf("Open after reload = %q, %v", opened, err)
	}
}

func TestLoadOrCreateIdentityRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.age")
	if err := os.WriteFile(path, []byte("garbage\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(path); err == nil {
		t.Fatal("LoadOrCreateIdentity accepted a malformed key file")
	}
}
