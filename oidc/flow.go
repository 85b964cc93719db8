// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/bureau-foundation/boardhost/credentials"
	"github.com/bureau-foundation/boardhost/lib/clock"
	"github.com/bureau-foundation/boardhost/lib/localstore"
	"github.com/bureau-foundation/boardhost/lib/netutil"
)

// PendingKey holds the in-flight login. Beginning a login replaces any
// earlier one that was never completed.
const PendingKey = "oidc_pending"

// ErrUnknownState is returned by CompleteLogin when no login was begun
// with the given state, or it was already completed.
var ErrUnknownState = errors.New("oidc: no login in progress for this state")

// Matrix scopes (MSC2967).
const (
	scopeAPI          = "urn:matrix:org.matrix.msc2967.client:api:*"
	scopeDevicePrefix = "urn:matrix:org.matrix.msc2967.client:device:"
)

// AuthorizationState is everything CompleteLogin needs that the browser
// round trip does not carry.
type AuthorizationState struct {
	// State is the OAuth state parameter the login was begun with.
	State         string `json:"state"`
	Issuer        string `json:"issuer"`
	ClientID      string `json:"client_id"`
	HomeserverURL string `json:"homeserver_url"`
	RedirectURL   string `json:"redirect_url"`
	CodeVerifier  string `json:"code_verifier"`
	Nonce         string `json:"nonce"`
	DeviceID      string `json:"device_id"`
}

// LoginResult is the outcome of a completed login.
type LoginResult struct {
	HomeserverURL string
	Issuer        string
	ClientID      string
	DeviceID      string
	RedirectURL   string
	AccessToken   string
	RefreshToken  string
	ExpiresIn     time.Duration
	IDTokenClaims credentials.IDTokenClaims
}

// Credentials converts the result into the bundle persisted for later
// refreshes.
func (r *LoginResult) Credentials() *credentials.OIDCCredentials {
	return &credentials.OIDCCredentials{
		HomeserverURL: r.HomeserverURL,
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
		ClientID:      r.ClientID,
		Issuer:        r.Issuer,
		IDTokenClaims: r.IDTokenClaims,
	}
}

// FlowConfig holds the settings for NewFlow.
type FlowConfig struct {
	// Storage keeps in-flight logins across the browser round trip.
	Storage localstore.Storage

	// ClientName and ClientURI are sent with dynamic registration.
	ClientName string
	ClientURI  string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Flow runs authorization code logins with PKCE.
type Flow struct {
	storage    localstore.Storage
	clientName string
	clientURI  string
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// NewFlow validates config and returns a Flow.
func NewFlow(config FlowConfig) (*Flow, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("oidc: Storage is required")
	}
	flow := &Flow{
		storage:    config.Storage,
		clientName: config.ClientName,
		clientURI:  config.ClientURI,
		httpClient: config.HTTPClient,
		clock:      config.Clock,
		logger:     config.Logger,
	}
	if flow.clientName == "" {
		flow.clientName = "boardhost"
	}
	if flow.httpClient == nil {
		flow.httpClient = http.DefaultClient
	}
	if flow.clock == nil {
		flow.clock = clock.Real()
	}
	if flow.logger == nil {
		flow.logger = slog.Default()
	}
	return flow, nil
}

// BeginLogin registers a client with issuer, records the in-flight
// login, and returns the URL to send the browser to.
func (f *Flow) BeginLogin(ctx context.Context, homeserverURL, issuer, redirectURL string) (string, error) {
	if _, err := netutil.ParseHTTPURL(redirectURL); err != nil {
		return "", fmt.Errorf("oidc: invalid redirect URL: %w", err)
	}
	metadata, err := Discover(ctx, f.httpClient, issuer)
	if err != nil {
		return "", err
	}
	clientURI := f.clientURI
	if clientURI == "" {
		clientURI = redirectURL
	}
	clientID, err := Register(ctx, f.httpClient, metadata, newClientMetadata(f.clientName, clientURI, redirectURL))
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	pending := AuthorizationState{
		State:         state,
		Issuer:        issuer,
		ClientID:      clientID,
		HomeserverURL: homeserverURL,
		RedirectURL:   redirectURL,
		CodeVerifier:  oauth2.GenerateVerifier(),
		Nonce:         uuid.NewString(),
		DeviceID:      newDeviceID(),
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return "", fmt.Errorf("oidc: encoding login state: %w", err)
	}
	if err := f.storage.Put(ctx, PendingKey, data); err != nil {
		return "", fmt.Errorf("oidc: storing login state: %w", err)
	}

	config := metadata.oauth2Config(clientID, redirectURL, "openid", scopeAPI, scopeDevicePrefix+pending.DeviceID)
	authorizationURL := config.AuthCodeURL(state,
		oauth2.S256ChallengeOption(pending.CodeVerifier),
		oauth2.SetAuthURLParam("nonce", pending.Nonce),
		oauth2.SetAuthURLParam("response_mode", "query"),
	)
	f.logger.Info("delegated login started",
		"issuer", issuer,
		"client_id", clientID,
		"device_id", pending.DeviceID,
	)
	return authorizationURL, nil
}

// CompleteLogin exchanges code for tokens. The in-flight record for
// state is consumed whether or not the exchange succeeds.
func (f *Flow) CompleteLogin(ctx context.Context, code, state string) (*LoginResult, error) {
	if code == "" || state == "" {
		return nil, fmt.Errorf("oidc: code and state are required")
	}
	data, err := f.storage.Get(ctx, PendingKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrUnknownState
	}
	if err != nil {
		return nil, fmt.Errorf("oidc: reading login state: %w", err)
	}
	var pending AuthorizationState
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("oidc: decoding login state: %w", err)
	}
	// A mismatched state leaves the in-flight login in place.
	if pending.State != state {
		return nil, ErrUnknownState
	}
	if err := f.storage.Delete(ctx, PendingKey); err != nil {
		f.logger.Warn("removing consumed login state failed", "error", err)
	}

	metadata, err := Discover(ctx, f.httpClient, pending.Issuer)
	if err != nil {
		return nil, err
	}
	config := metadata.oauth2Config(pending.ClientID, pending.RedirectURL)
	token, err := config.Exchange(context.WithValue(ctx, oauth2.HTTPClient, f.httpClient), code,
		oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("oidc: exchanging authorization code: %w", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, fmt.Errorf("oidc: token response has no id_token")
	}
	claims, err := verifyIDToken(ctx, f.httpClient, metadata, rawIDToken, pending.ClientID, f.clock.Now())
	if err != nil {
		return nil, err
	}
	if claims.Nonce != pending.Nonce {
		return nil, fmt.Errorf("oidc: ID token nonce does not match the login request")
	}

	f.logger.Info("delegated login completed", "issuer", pending.Issuer, "subject", claims.Subject)
	return &LoginResult{
		HomeserverURL: pending.HomeserverURL,
		Issuer:        pending.Issuer,
		ClientID:      pending.ClientID,
		DeviceID:      pending.DeviceID,
		RedirectURL:   pending.RedirectURL,
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		ExpiresIn:     expiresIn(token, f.clock.Now()),
		IDTokenClaims: *claims,
	}, nil
}

// Revoke invalidates token at issuer. Used on logout; issuers without a
// revocation endpoint are skipped.
func (f *Flow) Revoke(ctx context.Context, issuer, clientID, token string) error {
	metadata, err := Discover(ctx, f.httpClient, issuer)
	if err != nil {
		return err
	}
	return Revoke(ctx, f.httpClient, metadata, clientID, token)
}

// newDeviceID returns a Matrix-style device ID: ten upper-case
// alphanumerics.
func newDeviceID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// expiresIn is the token lifetime as granted. The wire expires_in wins
// over Expiry, which the oauth2 package stamps from the wall clock.
func expiresIn(token *oauth2.Token, now time.Time) time.Duration {
	if token.ExpiresIn > 0 {
		return time.Duration(token.ExpiresIn) * time.Second
	}
	if token.Expiry.IsZero() {
		return 0
	}
	return token.Expiry.Sub(now)
}
