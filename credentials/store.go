// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/boardhost/lib/localstore"
)

// ErrNoMatrixCredentials is returned by UpdateAccessTokens when no
// Matrix bundle exists. Reaching it is a bug: tokens can only be
// refreshed for a session that was stored first.
var ErrNoMatrixCredentials = errors.New("credentials: no matrix credentials to update")

// Store holds both bundles in memory and writes through to storage on
// every change. Getters return copies. Safe for concurrent use.
type Store struct {
	storage localstore.Storage
	logger  *slog.Logger

	mu     sync.Mutex
	oidc   *OIDCCredentials
	matrix *MatrixCredentials
}

// New returns an empty store backed by storage. Call Start to load the
// persisted bundles.
func New(storage localstore.Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{storage: storage, logger: logger}
}

// Start loads both bundles. A bundle that is missing, unreadable, or
// invalid is left absent.
func (s *Store) Start(ctx context.Context) {
	var oidc OIDCCredentials
	oidcLoaded := s.load(ctx, OIDCKey, &oidc, oidc.Validate)
	var matrix MatrixCredentials
	matrixLoaded := s.load(ctx, MatrixKey, &matrix, matrix.Validate)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.oidc, s.matrix = nil, nil
	if oidcLoaded {
		s.oidc = &oidc
	}
	if matrixLoaded {
		s.matrix = &matrix
	}
}

func (s *Store) load(ctx context.Context, key string, target any, validate func() error) bool {
	data, err := s.storage.Get(ctx, key)
	if errors.Is(err, localstore.ErrNotFound) {
		return false
	}
	if err != nil {
		s.logger.Warn("reading stored credentials failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, target); err != nil {
		s.logger.Debug("discarding malformed stored credentials", "key", key, "error", err)
		return false
	}
	if err := validate(); err != nil {
		s.logger.Debug("discarding invalid stored credentials", "key", key, "error", err)
		return false
	}
	return true
}

// OIDCCredentials returns the delegated-auth bundle, or nil.
func (s *Store) OIDCCredentials() *OIDCCredentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oidc == nil {
		return nil
	}
	copied := *s.oidc
	return &copied
}

// SetOIDCCredentials validates and stores credentials. Nil deletes the
// bundle.
func (s *Store) SetOIDCCredentials(ctx context.Context, credentials *OIDCCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credentials == nil {
		if err := s.storage.Delete(ctx, OIDCKey); err != nil {
			return fmt.Errorf("credentials: deleting %s: %w", OIDCKey, err)
		}
		s.oidc = nil
		return nil
	}
	if err := credentials.Validate(); err != nil {
		return fmt.Errorf("credentials: invalid OIDC credentials: %w", err)
	}
	copied := *credentials
	if err := s.write(ctx, OIDCKey, &copied); err != nil {
		return err
	}
	s.oidc = &copied
	return nil
}

// MatrixCredentials returns the protocol-native bundle, or nil.
func (s *Store) MatrixCredentials() *MatrixCredentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matrix == nil {
		return nil
	}
	copied := *s.matrix
	return &copied
}

// SetMatrixCredentials validates and stores credentials. Nil deletes
// the bundle.
func (s *Store) SetMatrixCredentials(ctx context.Context, credentials *MatrixCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credentials == nil {
		if err := s.storage.Delete(ctx, MatrixKey); err != nil {
			return fmt.Errorf("credentials: deleting %s: %w", MatrixKey, err)
		}
		s.matrix = nil
		return nil
	}
	if err := credentials.Validate(); err != nil {
		return fmt.Errorf("credentials: invalid Matrix credentials: %w", err)
	}
	copied := *credentials
	if err := s.write(ctx, MatrixKey, &copied); err != nil {
		return err
	}
	s.matrix = &copied
	return nil
}

// UpdateAccessTokens replaces the token fields of the Matrix bundle and
// persists it; every other field is kept. The OIDC bundle's tokens, if
// present, are updated the same way so the next refresh starts from the
// newest refresh token.
func (s *Store) UpdateAccessTokens(ctx context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matrix == nil {
		return ErrNoMatrixCredentials
	}

	matrix := *s.matrix
	matrix.AccessToken = accessToken
	matrix.RefreshToken = refreshToken
	if err := s.write(ctx, MatrixKey, &matrix); err != nil {
		return err
	}
	s.matrix = &matrix

	if s.oidc != nil {
		oidc := *s.oidc
		oidc.AccessToken = accessToken
		oidc.RefreshToken = refreshToken
		if err := s.write(ctx, OIDCKey, &oidc); err != nil {
			return err
		}
		s.oidc = &oidc
	}
	return nil
}

// Clear deletes both bundles. Both deletions are attempted.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if err := s.storage.Delete(ctx, OIDCKey); err != nil {
		errs = append(errs, fmt.Errorf("credentials: deleting %s: %w", OIDCKey, err))
	}
	if err := s.storage.Delete(ctx, MatrixKey); err != nil {
		errs = append(errs, fmt.Errorf("credentials: deleting %s: %w", MatrixKey, err))
	}
	s.oidc, s.matrix = nil, nil
	return errors.Join(errs...)
}

// write must be called with s.mu held.
func (s *Store) write(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("credentials: encoding %s: %w", key, err)
	}
	if err := s.storage.Put(ctx, key, data); err != nil {
		return fmt.Errorf("credentials: writing %s: %w", key, err)
	}
	return nil
}
