// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/bureau-foundation/boardhost/lib/netutil"
	"github.com/bureau-foundation/boardhost/lib/ref"
)

// Storage keys.
const (
	OIDCKey   = "oidc_credentials"
	MatrixKey = "matrix_credentials"
)

// IDTokenClaims is the snapshot of a verified ID token kept to check
// that refreshed tokens still describe the same subject.
type IDTokenClaims struct {
	jwt.Claims
	Nonce string `json:"nonce,omitempty"`
}

// OIDCCredentials is the delegated-auth bundle.
type OIDCCredentials struct {
	HomeserverURL     string        `json:"homeserver_url"`
	IdentityServerURL string        `json:"identity_server_url,omitempty"`
	AccessToken       string        `json:"access_token"`
	RefreshToken      string        `json:"refresh_token,omitempty"`
	ClientID          string        `json:"client_id"`
	Issuer            string        `json:"issuer"`
	IDTokenClaims     IDTokenClaims `json:"id_token_claims"`
}

// Validate reports every problem with c.
func (c *OIDCCredentials) Validate() error {
	var errs []error
	if _, err := netutil.ParseHTTPURL(c.HomeserverURL); err != nil {
		errs = append(errs, fmt.Errorf("homeserver_url: %w", err))
	}
	if c.IdentityServerURL != "" {
		if _, err := netutil.ParseHTTPURL(c.IdentityServerURL); err != nil {
			errs = append(errs, fmt.Errorf("identity_server_url: %w", err))
		}
	}
	if c.AccessToken == "" {
		errs = append(errs, errors.New("access_token is required"))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("client_id is required"))
	}
	if _, err := netutil.ParseHTTPURL(c.Issuer); err != nil {
		errs = append(errs, fmt.Errorf("issuer: %w", err))
	}
	claims := c.IDTokenClaims
	if claims.Issuer == "" || claims.Subject == "" || len(claims.Audience) == 0 {
		errs = append(errs, errors.New("id_token_claims must carry iss, sub, and aud"))
	}
	return errors.Join(errs...)
}

// MatrixCredentials is the protocol-native bundle.
type MatrixCredentials struct {
	HomeserverURL string     `json:"homeserver_url"`
	UserID        ref.UserID `json:"user_id"`
	DeviceID      string     `json:"device_id"`
	AccessToken   string     `json:"access_token"`
	RefreshToken  string     `json:"refresh_token,omitempty"`
}

// Validate reports every problem with c.
func (c *MatrixCredentials) Validate() error {
	var errs []error
	if _, err := netutil.ParseHTTPURL(c.HomeserverURL); err != nil {
		errs = append(errs, fmt.Errorf("homeserver_url: %w", err))
	}
	if c.UserID.IsZero() {
		errs = append(errs, errors.New("user_id is required"))
	}
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	if c.AccessToken == "" {
		errs = append(errs, errors.New("access_token is required"))
	}
	return errors.Join(errs...)
}
