// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/oauth2"

	"github.com/bureau-foundation/boardhost/lib/netutil"
)

// Metadata is the subset of the OpenID Provider configuration the host
// uses.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	AccountManagementURI          string   `json:"account_management_uri,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
	IDTokenSigningAlgValues       []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// Discover fetches and validates the issuer's
// /.well-known/openid-configuration.
func Discover(ctx context.Context, httpClient *http.Client, issuer string) (*Metadata, error) {
	if _, err := netutil.ParseHTTPURL(issuer); err != nil {
		return nil, fmt.Errorf("oidc: invalid issuer: %w", err)
	}
	discoveryURL := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"

	var metadata Metadata
	if err := getJSON(ctx, httpClient, discoveryURL, &metadata); err != nil {
		return nil, fmt.Errorf("oidc: discovery for %s: %w", issuer, err)
	}
	if metadata.Issuer != issuer {
		return nil, fmt.Errorf("oidc: discovery for %s returned issuer %q", issuer, metadata.Issuer)
	}
	for name, endpoint := range map[string]string{
		"authorization_endpoint": metadata.AuthorizationEndpoint,
		"token_endpoint":         metadata.TokenEndpoint,
		"jwks_uri":               metadata.JWKSURI,
	} {
		if _, err := netutil.ParseHTTPURL(endpoint); err != nil {
			return nil, fmt.Errorf("oidc: discovery for %s: %s: %w", issuer, name, err)
		}
	}
	if len(metadata.CodeChallengeMethodsSupported) > 0 && !slices.Contains(metadata.CodeChallengeMethodsSupported, "S256") {
		return nil, fmt.Errorf("oidc: issuer %s does not support PKCE S256", issuer)
	}
	return &metadata, nil
}

// oauth2Config describes the public client to x/oauth2. Public clients
// send their client_id in the form body.
func (m *Metadata) oauth2Config(clientID, redirectURL string, scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.AuthorizationEndpoint,
			TokenURL:  m.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      scopes,
	}
}

// signingAlgorithms lists the algorithms an ID token may be signed
// with: those the issuer advertises, or RS256 alone when it advertises
// none. "none" is never accepted.
func (m *Metadata) signingAlgorithms() []jose.SignatureAlgorithm {
	var algorithms []jose.SignatureAlgorithm
	for _, name := range m.IDTokenSigningAlgValues {
		if name == "none" {
			continue
		}
		algorithms = append(algorithms, jose.SignatureAlgorithm(name))
	}
	if len(algorithms) == 0 {
		algorithms = []jose.SignatureAlgorithm{jose.RS256}
	}
	return algorithms
}

// keySet fetches the issuer's JWKS.
func (m *Metadata) keySet(ctx context.Context, httpClient *http.Client) (*jose.JSONWebKeySet, error) {
	var keys jose.JSONWebKeySet
	if err := getJSON(ctx, httpClient, m.JWKSURI, &keys); err != nil {
		return nil, fmt.Errorf("oidc: fetching JWKS: %w", err)
	}
	return &keys, nil
}

func getJSON(ctx context.Context, httpClient *http.Client, target string, v any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	response, err := httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d: %s", target, response.StatusCode, netutil.ErrorBody(response.Body))
	}
	return netutil.DecodeResponse(response.Body, v)
}
