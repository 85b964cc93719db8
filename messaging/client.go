// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/boardhost/lib/netutil"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/lib/secret"
	"github.com/bureau-foundation/boardhost/lib/version"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL, e.g. "https://matrix.example.com/".
	HomeserverURL string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client. It is shared by every
// DirectSession derived from it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates the homeserver URL and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	if _, err := netutil.ParseHTTPURL(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HomeserverURL returns the base URL without a trailing slash.
func (c *Client) HomeserverURL() string { return c.baseURL }

// ServerVersions reports the Matrix versions and unstable features the
// homeserver supports. Unauthenticated.
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersionsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/versions", "", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: server versions failed: %w", err)
	}
	var response ServerVersionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse versions response: %w", err)
	}
	return &response, nil
}

// AuthIssuer returns the OIDC issuer the homeserver delegates
// authentication to, or "" when it does not delegate. The stable
// auth_metadata endpoint is tried first, then the MSC2965 auth_issuer
// endpoint.
func (c *Client) AuthIssuer(ctx context.Context) (string, error) {
	var response struct {
		Issuer string `json:"issuer"`
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v1/auth_metadata", "", nil, nil)
	if IsNotSupported(err) {
		body, err = c.doRequest(ctx, http.MethodGet, "/_matrix/client/unstable/org.matrix.msc2965/auth_issuer", "", nil, nil)
		if IsNotSupported(err) {
			return "", nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("messaging: auth issuer discovery failed: %w", err)
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse auth metadata: %w", err)
	}
	return response.Issuer, nil
}

// SSORedirectURL is where a browser is sent to start the legacy SSO
// flow. The homeserver returns to redirectURL with a loginToken query
// parameter.
func (c *Client) SSORedirectURL(redirectURL string) string {
	return c.baseURL + "/_matrix/client/v3/login/sso/redirect?" + url.Values{"redirectUrl": {redirectURL}}.Encode()
}

// LoginWithToken exchanges a legacy SSO login token for a session.
// deviceID may be empty to let the server allocate one.
func (c *Client) LoginWithToken(ctx context.Context, loginToken, deviceID string) (*AuthResponse, error) {
	if loginToken == "" {
		return nil, fmt.Errorf("messaging: login token is required")
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", "", LoginTokenRequest{
		Type:                     "m.login.token",
		Token:                    loginToken,
		DeviceID:                 deviceID,
		InitialDeviceDisplayName: version.DeviceDisplayName("boardhost"),
		RefreshToken:             true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: token login failed: %w", err)
	}
	var response AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}
	if response.AccessToken == "" || response.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: login response missing user_id or access_token")
	}
	c.logger.Info("logged in to matrix",
		"user_id", response.UserID,
		"device_id", response.DeviceID,
	)
	return &response, nil
}

// Refresh exchanges a native Matrix refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: token refresh failed: %w", err)
	}
	var response RefreshResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse refresh response: %w", err)
	}
	if response.AccessToken == "" {
		return nil, fmt.Errorf("messaging: refresh response missing access_token")
	}
	return &response, nil
}

// WhoAmI identifies the owner of accessToken without building a
// session. Used right after a delegated login, before the user ID is
// known.
func (c *Client) WhoAmI(ctx context.Context, accessToken string) (*WhoAmIResponse, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("messaging: access token is required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", accessToken, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: whoami failed: %w", err)
	}
	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	if response.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: whoami response missing user_id")
	}
	return &response, nil
}

// SessionConfig describes an existing authenticated session.
type SessionConfig struct {
	UserID       ref.UserID
	DeviceID     string
	AccessToken  string
	RefreshToken string
	// Refresher is consulted when a request fails with
	// M_UNKNOWN_TOKEN. Nil disables refresh.
	Refresher TokenRefresher
}

// Session builds a DirectSession without contacting the server; the
// first request reveals whether the token is valid. Close the session
// to release the token memory.
func (c *Client) Session(config SessionConfig) (*DirectSession, error) {
	if config.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: session requires a user ID")
	}
	accessToken, err := secret.FromString(config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	session := &DirectSession{
		client:      c,
		userID:      config.UserID,
		deviceID:    config.DeviceID,
		refresher:   config.Refresher,
		accessToken: accessToken,
	}
	if config.RefreshToken != "" {
		session.refreshToken, err = secret.FromString(config.RefreshToken)
		if err != nil {
			accessToken.Close()
			return nil, fmt.Errorf("messaging: protecting refresh token: %w", err)
		}
	}
	return session, nil
}

// doRequest sends a JSON request and returns the response body. Non-2xx
// responses become *MatrixError. An empty accessToken sends no
// Authorization header.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, requestBody any, query url.Values) ([]byte, error) {
	var bodyReader io.Reader
	contentType := ""
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return c.doRequestRaw(ctx, method, path, accessToken, contentType, bodyReader, query)
}

// doRequestRaw sends body verbatim with the given content type.
func (c *Client) doRequestRaw(ctx context.Context, method, path, accessToken, contentType string, body io.Reader, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	matrixErr := &MatrixError{StatusCode: response.StatusCode}
	if jsonErr := json.Unmarshal(responseBody, matrixErr); jsonErr != nil || matrixErr.Code == "" {
		// Proxies and misconfigured servers answer with HTML or
		// plain text; keep the status so callers can still classify.
		matrixErr.Code = ErrCodeUnknown
		matrixErr.Message = truncate(string(responseBody), 200)
	}
	return nil, matrixErr
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
