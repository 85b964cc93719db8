// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/boardhost/messaging"
)

// TokenPersister stores a renewed token pair. credentials.Store
// implements it.
type TokenPersister interface {
	UpdateAccessTokens(ctx context.Context, accessToken, refreshToken string) error
}

// MatrixRefresher renews tokens through the homeserver's own /refresh
// endpoint. It is used for sessions obtained by token login, which carry
// a Matrix refresh token but no authorization server.
type MatrixRefresher struct {
	client    *messaging.Client
	persister TokenPersister
	logger    *slog.Logger
}

// NewMatrixRefresher returns a refresher that calls client and writes
// renewed tokens to persister.
func NewMatrixRefresher(client *messaging.Client, persister TokenPersister, logger *slog.Logger) *MatrixRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixRefresher{client: client, persister: persister, logger: logger}
}

// RefreshAccessToken implements messaging.TokenRefresher. When the
// server does not rotate the refresh token, the current one is kept.
func (r *MatrixRefresher) RefreshAccessToken(ctx context.Context, refreshToken string) (messaging.Tokens, error) {
	response, err := r.client.Refresh(ctx, refreshToken)
	if err != nil {
		return messaging.Tokens{}, fmt.Errorf("client: refreshing matrix token: %w", err)
	}
	tokens := messaging.Tokens{
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
		ExpiresIn:    time.Duration(response.ExpiresInMs) * time.Millisecond,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	// The old refresh token is spent; the new pair is returned even
	// when storing it fails.
	if err := r.PersistTokens(ctx, tokens); err != nil {
		r.logger.Error("persisting refreshed tokens failed", "error", err)
	}
	return tokens, nil
}

// PersistTokens writes tokens back to the credential store.
func (r *MatrixRefresher) PersistTokens(ctx context.Context, tokens messaging.Tokens) error {
	return r.persister.UpdateAccessTokens(ctx, tokens.AccessToken, tokens.RefreshToken)
}
