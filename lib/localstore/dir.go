// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

// Dir stores each key as <escaped key>.json inside a directory. Writes
// go to a temporary file that is renamed into place, so a crash leaves
// either the old value or the new one.
type Dir struct {
	path string
}

// OpenDir creates path (mode 0700) if needed.
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("localstore: creating %s: %w", path, err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) file(key string) string {
	return filepath.Join(d.path, url.PathEscape(key)+".json")
}

// Get reads the key's file. A missing file is ErrNotFound.
func (d *Dir) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: reading %q: %w", key, err)
	}
	return data, nil
}

// Put writes value to a temporary file and renames it over the key's
// file, so readers never see a partial value.
func (d *Dir) Put(_ context.Context, key string, value []byte) error {
	temporary, err := os.CreateTemp(d.path, ".pending-*")
	if err != nil {
		return fmt.Errorf("localstore: writing %q: %w", key, err)
	}
	cleanup := func() { os.Remove(temporary.Name()) }

	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("localstore: writing %q: %w", key, err)
	}
	if _, err := temporary.Write(value); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("localstore: writing %q: %w", key, err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("localstore: syncing %q: %w", key, err)
	}
	if err := temporary.Close(); err != nil {
		cleanup()
		return fmt.Errorf("localstore: writing %q: %w", key, err)
	}
	if err := os.Rename(temporary.Name(), d.file(key)); err != nil {
		cleanup()
		return fmt.Errorf("localstore: replacing %q: %w", key, err)
	}
	return nil
}

// Delete removes the key's file. Deleting a missing key is not an error.
func (d *Dir) Delete(_ context.Context, key string) error {
	err := os.Remove(d.file(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localstore: deleting %q: %w", key, err)
	}
	return nil
}
