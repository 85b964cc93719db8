// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/boardhost/lib/config"
	"github.com/bureau-foundation/boardhost/lib/localstore"
	"github.com/bureau-foundation/boardhost/lib/sealed"
)

// openStorage opens the configured backend. The returned function
// releases it.
func openStorage(cfg config.StorageConfig, logger *slog.Logger) (localstore.Storage, func() error, error) {
	var storage localstore.Storage
	var closers []func() error

	switch cfg.Backend {
	case config.StorageMemory:
		storage = &localstore.Memory{}
	case config.StorageDir:
		dir, err := localstore.OpenDir(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening credential directory: %w", err)
		}
		storage = dir
	case config.StorageSQLite:
		database, err := localstore.OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening credential database: %w", err)
		}
		storage = database
		closers = append(closers, database.Close)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.Sealed {
		identity, err := sealed.LoadOrCreateIdentity(cfg.IdentityPath)
		if err != nil {
			for _, closer := range closers {
				closer()
			}
			return nil, nil, fmt.Errorf("loading storage identity: %w", err)
		}
		storage = localstore.NewSealed(storage, identity)
		closers = append(closers, identity.Close)
		logger.Debug("credential storage sealed", "recipient", identity.Recipient())
	}

	closeAll := func() error {
		var errs []error
		for _, closer := range closers {
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return storage, closeAll, nil
}
