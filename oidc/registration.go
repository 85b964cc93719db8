// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/boardhost/lib/netutil"
)

// ClientMetadata is the RFC 7591 registration request for the host's
// public client.
type ClientMetadata struct {
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ApplicationType         string   `json:"application_type"`
}

// newClientMetadata fills in the fixed parts of a registration. Loopback
// redirect URLs register as a native application, which authorization
// servers require for http redirects.
func newClientMetadata(clientName, clientURI, redirectURL string) ClientMetadata {
	applicationType := "web"
	if parsed, err := url.Parse(redirectURL); err == nil && parsed.Scheme == "http" {
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			applicationType = "native"
		}
	}
	return ClientMetadata{
		ClientName:              clientName,
		ClientURI:               clientURI,
		RedirectURIs:            []string{redirectURL},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		ApplicationType:         applicationType,
	}
}

// Register performs dynamic client registration and returns the issued
// client ID.
func Register(ctx context.Context, httpClient *http.Client, metadata *Metadata, client ClientMetadata) (string, error) {
	if metadata.RegistrationEndpoint == "" {
		return "", fmt.Errorf("oidc: issuer %s does not support dynamic client registration", metadata.Issuer)
	}
	body, err := json.Marshal(client)
	if err != nil {
		return "", fmt.Errorf("oidc: encoding client registration: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("oidc: creating registration request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("oidc: client registration: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated && response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oidc: client registration: HTTP %d: %s", response.StatusCode, netutil.ErrorBody(response.Body))
	}
	var registered struct {
		ClientID string `json:"client_id"`
	}
	if err := netutil.DecodeResponse(response.Body, &registered); err != nil {
		return "", fmt.Errorf("oidc: client registration: %w", err)
	}
	if registered.ClientID == "" {
		return "", fmt.Errorf("oidc: client registration response has no client_id")
	}
	return registered.ClientID, nil
}

// Revoke invalidates token at the issuer's revocation endpoint (RFC
// 7009). Issuers without one are skipped.
func Revoke(ctx context.Context, httpClient *http.Client, metadata *Metadata, clientID, token string) error {
	if metadata.RevocationEndpoint == "" {
		return nil
	}
	form := url.Values{"token": {token}, "client_id": {clientID}}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, metadata.RevocationEndpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("oidc: creating revocation request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	response, err := httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("oidc: token revocation: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("oidc: token revocation: HTTP %d: %s", response.StatusCode, netutil.ErrorBody(response.Body))
	}
	return nil
}
