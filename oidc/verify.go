// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/bureau-foundation/boardhost/credentials"
)

// ErrSessionMismatch is returned when a refreshed ID token names a
// different issuer, subject, or audience than the one captured at login.
var ErrSessionMismatch = errors.New("oidc: refreshed ID token belongs to a different session")

// verifyIDToken checks the signature of raw against the issuer's JWKS
// and validates iss, aud, exp, nbf, and iat at now.
func verifyIDToken(ctx context.Context, httpClient *http.Client, metadata *Metadata, raw, clientID string, now time.Time) (*credentials.IDTokenClaims, error) {
	token, err := jwt.ParseSigned(raw, metadata.signingAlgorithms())
	if err != nil {
		return nil, fmt.Errorf("oidc: parsing ID token: %w", err)
	}
	keys, err := metadata.keySet(ctx, httpClient)
	if err != nil {
		return nil, err
	}
	key, err := verificationKey(token, keys)
	if err != nil {
		return nil, err
	}

	var claims credentials.IDTokenClaims
	if err := token.Claims(key, &claims); err != nil {
		return nil, fmt.Errorf("oidc: verifying ID token signature: %w", err)
	}
	expected := jwt.Expected{
		Issuer:      metadata.Issuer,
		AnyAudience: jwt.Audience{clientID},
		Time:        now,
	}
	if err := claims.ValidateWithLeeway(expected, jwt.DefaultLeeway); err != nil {
		return nil, fmt.Errorf("oidc: validating ID token claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("oidc: ID token has no subject")
	}
	return &claims, nil
}

// verificationKey picks the JWK named by the token's kid header. A
// token without kid is accepted only when the set holds a single key.
func verificationKey(token *jwt.JSONWebToken, keys *jose.JSONWebKeySet) (jose.JSONWebKey, error) {
	keyID := ""
	if len(token.Headers) > 0 {
		keyID = token.Headers[0].KeyID
	}
	if keyID != "" {
		matches := keys.Key(keyID)
		if len(matches) == 0 {
			return jose.JSONWebKey{}, fmt.Errorf("oidc: ID token signed with unknown key %q", keyID)
		}
		return matches[0], nil
	}
	if len(keys.Keys) != 1 {
		return jose.JSONWebKey{}, fmt.Errorf("oidc: ID token has no kid and the issuer publishes %d keys", len(keys.Keys))
	}
	return keys.Keys[0], nil
}

// sameSession compares the identity-bearing claims of two ID tokens.
func sameSession(previous, refreshed *credentials.IDTokenClaims) error {
	if previous.Issuer != refreshed.Issuer {
		return fmt.Errorf("%w: issuer %q, was %q", ErrSessionMismatch, refreshed.Issuer, previous.Issuer)
	}
	if previous.Subject != refreshed.Subject {
		return fmt.Errorf("%w: subject %q, was %q", ErrSessionMismatch, refreshed.Subject, previous.Subject)
	}
	if !slices.Equal(sortedAudience(previous.Audience), sortedAudience(refreshed.Audience)) {
		return fmt.Errorf("%w: audience %v, was %v", ErrSessionMismatch, refreshed.Audience, previous.Audience)
	}
	return nil
}

func sortedAudience(audience jwt.Audience) []string {
	sorted := slices.Clone([]string(audience))
	slices.Sort(sorted)
	return sorted
}
