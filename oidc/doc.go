// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package oidc implements delegated (OIDC) login for a Matrix
// homeserver whose authentication is handled by an external
// authorization server (MSC3861).
//
// A login is two calls separated by a browser round trip.
// [Flow.BeginLogin] discovers the issuer, registers a public client,
// stores an [AuthorizationState] under [PendingKey], and
// returns the authorization URL. [Flow.CompleteLogin] consumes that
// record when the browser comes back with code and state, exchanges the
// code with the PKCE verifier, and verifies the ID token against the
// issuer's JWKS.
//
// [TokenRefresher] renews access tokens with the refresh grant. A
// refreshed ID token must name the same issuer, subject, and audience
// as the one captured at login.
//
// OAuth 2.0 mechanics come from golang.org/x/oauth2; JWS parsing and
// claim validation from github.com/go-jose/go-jose/v4.
package oidc
