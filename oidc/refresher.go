// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/bureau-foundation/boardhost/credentials"
	"github.com/bureau-foundation/boardhost/lib/clock"
	"github.com/bureau-foundation/boardhost/messaging"
)

// TokenPersister stores a renewed token pair. credentials.Store
// implements it.
type TokenPersister interface {
	UpdateAccessTokens(ctx context.Context, accessToken, refreshToken string) error
}

// RefresherConfig holds the settings for NewTokenRefresher.
type RefresherConfig struct {
	Issuer   string
	ClientID string
	// RedirectURL is the one the login was registered with.
	RedirectURL string
	DeviceID    string
	// IDTokenClaims is the snapshot refreshed ID tokens are compared
	// against.
	IDTokenClaims credentials.IDTokenClaims
	Persister     TokenPersister
	HTTPClient    *http.Client
	Clock         clock.Clock
	Logger        *slog.Logger
}

// TokenRefresher renews access tokens with the OAuth 2.0 refresh grant.
// It implements messaging.TokenRefresher. Retries are left to the
// caller.
type TokenRefresher struct {
	issuer      string
	clientID    string
	redirectURL string
	deviceID    string
	persister   TokenPersister
	httpClient  *http.Client
	clock       clock.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	metadata *Metadata
	claims   credentials.IDTokenClaims
}

// NewTokenRefresher validates config and returns a refresher.
func NewTokenRefresher(config RefresherConfig) (*TokenRefresher, error) {
	if config.Issuer == "" || config.ClientID == "" {
		return nil, fmt.Errorf("oidc: refresher requires Issuer and ClientID")
	}
	if config.Persister == nil {
		return nil, fmt.Errorf("oidc: refresher requires a Persister")
	}
	refresher := &TokenRefresher{
		issuer:      config.Issuer,
		clientID:    config.ClientID,
		redirectURL: config.RedirectURL,
		deviceID:    config.DeviceID,
		persister:   config.Persister,
		httpClient:  config.HTTPClient,
		clock:       config.Clock,
		logger:      config.Logger,
		claims:      config.IDTokenClaims,
	}
	if refresher.httpClient == nil {
		refresher.httpClient = http.DefaultClient
	}
	if refresher.clock == nil {
		refresher.clock = clock.Real()
	}
	if refresher.logger == nil {
		refresher.logger = slog.Default()
	}
	return refresher, nil
}

// Claims returns the current ID token claims snapshot.
func (r *TokenRefresher) Claims() credentials.IDTokenClaims {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claims
}

// RefreshAccessToken exchanges refreshToken for a new pair, checks any
// returned ID token against the login's claims, and persists the pair.
func (r *TokenRefresher) RefreshAccessToken(ctx context.Context, refreshToken string) (messaging.Tokens, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.metadata == nil {
		metadata, err := Discover(ctx, r.httpClient, r.issuer)
		if err != nil {
			return messaging.Tokens{}, err
		}
		r.metadata = metadata
	}

	config := r.metadata.oauth2Config(r.clientID, r.redirectURL)
	oauthContext := context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	token, err := config.TokenSource(oauthContext, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return messaging.Tokens{}, fmt.Errorf("oidc: refresh grant: %w", err)
	}

	if rawIDToken, _ := token.Extra("id_token").(string); rawIDToken != "" {
		claims, err := verifyIDToken(ctx, r.httpClient, r.metadata, rawIDToken, r.clientID, r.clock.Now())
		if err != nil {
			return messaging.Tokens{}, err
		}
		if err := sameSession(&r.claims, claims); err != nil {
			return messaging.Tokens{}, err
		}
		r.claims = *claims
	}

	tokens := messaging.Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn(token, r.clock.Now()),
	}
	if err := r.PersistTokens(ctx, tokens); err != nil {
		r.logger.Error("persisting refreshed tokens failed", "error", err)
	}
	r.logger.Info("delegated access token refreshed", "issuer", r.issuer, "device_id", r.deviceID)
	return tokens, nil
}

// PersistTokens writes tokens back to the credential store.
func (r *TokenRefresher) PersistTokens(ctx context.Context, tokens messaging.Tokens) error {
	return r.persister.UpdateAccessTokens(ctx, tokens.AccessToken, tokens.RefreshToken)
}
