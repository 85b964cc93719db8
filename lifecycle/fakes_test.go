// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/bureau-foundation/boardhost/client"
	"github.com/bureau-foundation/boardhost/credentials"
	"github.com/bureau-foundation/boardhost/lib/localstore"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/lib/testutil"
	"github.com/bureau-foundation/boardhost/messaging"
	"github.com/bureau-foundation/boardhost/oidc"
)

const (
	testHomeserverURL = "https://matrix.example.com/"
	testUserID        = "@test:example.com"
	testDeviceID      = "test_device_id"
	testPageURL       = "https://board.example.com/app"
)

// handlerTransport serves every request in-process, so tests can use
// real-looking homeserver URLs.
type handlerTransport struct {
	handler http.Handler
}

func (t handlerTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	recorder := httptest.NewRecorder()
	t.handler.ServeHTTP(recorder, request)
	if err := request.Context().Err(); err != nil {
		return nil, err
	}
	return recorder.Result(), nil
}

type identity struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// fakeHomeserver answers the endpoints a session start touches.
// Incremental syncs block until the request is cancelled or a token is
// revoked.
type fakeHomeserver struct {
	mu         sync.Mutex
	tokens     map[string]identity
	revoked    chan struct{}
	refreshes  map[string]string
	authIssuer string
	whoamiFail int
	logouts    int
	loginCalls int
}

func newFakeHomeserver() *fakeHomeserver {
	return &fakeHomeserver{
		tokens:    make(map[string]identity),
		refreshes: make(map[string]string),
		revoked:   make(chan struct{}),
	}
}

// revoke invalidates token and wakes blocked syncs so they see it.
// Call at most once.
func (h *fakeHomeserver) revoke(token string) {
	h.mu.Lock()
	delete(h.tokens, token)
	h.mu.Unlock()
	close(h.revoked)
}

func (h *fakeHomeserver) allow(token, userID, deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens[token] = identity{UserID: userID, DeviceID: deviceID}
}

func (h *fakeHomeserver) caller(r *http.Request) (identity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	who, ok := h.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	return who, ok
}

func (h *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/_matrix/client/v1/auth_metadata":
		h.mu.Lock()
		issuer := h.authIssuer
		h.mu.Unlock()
		if issuer == "" {
			testutil.WriteMatrixError(w, http.StatusNotFound, messaging.ErrCodeUnrecognized, "unrecognized")
			return
		}
		testutil.WriteJSON(w, http.StatusOK, map[string]string{"issuer": issuer})

	case "/_matrix/client/v3/login":
		var body messaging.LoginTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token != "legacy-token" {
			testutil.WriteMatrixError(w, http.StatusForbidden, messaging.ErrCodeForbidden, "invalid login token")
			return
		}
		h.mu.Lock()
		h.loginCalls++
		h.mu.Unlock()
		h.allow("legacy-access", "@legacy:example.com", "LEGACYDEVICE")
		testutil.WriteJSON(w, http.StatusOK, messaging.AuthResponse{
			UserID:       ref.MustParseUserID("@legacy:example.com"),
			AccessToken:  "legacy-access",
			DeviceID:     "LEGACYDEVICE",
			RefreshToken: "legacy-refresh",
		})

	case "/_matrix/client/v3/refresh":
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		h.mu.Lock()
		access, ok := h.refreshes[body.RefreshToken]
		h.mu.Unlock()
		if !ok {
			testutil.WriteMatrixError(w, http.StatusUnauthorized, messaging.ErrCodeUnknownToken, "refresh token revoked")
			return
		}
		testutil.WriteJSON(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": access + "-refresh"})

	case "/_matrix/client/v3/account/whoami":
		h.mu.Lock()
		fail := h.whoamiFail > 0
		if fail {
			h.whoamiFail--
		}
		h.mu.Unlock()
		if fail {
			testutil.WriteMatrixError(w, http.StatusInternalServerError, messaging.ErrCodeUnknown, "database unavailable")
			return
		}
		who, ok := h.caller(r)
		if !ok {
			testutil.WriteMatrixError(w, http.StatusUnauthorized, messaging.ErrCodeUnknownToken, "unknown token")
			return
		}
		testutil.WriteJSON(w, http.StatusOK, who)

	case "/_matrix/client/v3/sync":
		if _, ok := h.caller(r); !ok {
			testutil.WriteMatrixError(w, http.StatusUnauthorized, messaging.ErrCodeUnknownToken, "unknown token")
			return
		}
		if r.URL.Query().Get("since") == "" {
			testutil.WriteJSON(w, http.StatusOK, map[string]any{"next_batch": "s1"})
			return
		}
		select {
		case <-r.Context().Done():
		case <-h.revoked:
			if _, ok := h.caller(r); !ok {
				testutil.WriteMatrixError(w, http.StatusUnauthorized, messaging.ErrCodeUnknownToken, "unknown token")
				return
			}
			<-r.Context().Done()
		}

	case "/_matrix/client/v3/logout":
		h.mu.Lock()
		h.logouts++
		h.mu.Unlock()
		testutil.WriteJSON(w, http.StatusOK, map[string]any{})

	default:
		testutil.WriteMatrixError(w, http.StatusNotFound, messaging.ErrCodeUnrecognized, "unrecognized request")
	}
}

// fakeNavigator is a page at a fixed URL.
type fakeNavigator struct {
	mu        sync.Mutex
	current   *url.URL
	replaced  []string
	navigated []string
}

func newFakeNavigator(t *testing.T, raw string) *fakeNavigator {
	t.Helper()
	current, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeNavigator{current: current}
}

func (n *fakeNavigator) CurrentURL() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	copied := *n.current
	return &copied
}

func (n *fakeNavigator) ReplaceURL(u *url.URL) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = u
	n.replaced = append(n.replaced, u.String())
}

func (n *fakeNavigator) Navigate(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.navigated = append(n.navigated, target)
}

// fakeLogin completes exactly one authorization: code test_code with
// state test_state.
type fakeLogin struct {
	mu      sync.Mutex
	result  *oidc.LoginResult
	begun   []string
	revoked []string
}

func (f *fakeLogin) BeginLogin(ctx context.Context, homeserverURL, issuer, redirectURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun = append(f.begun, issuer+" "+redirectURL)
	return issuer + "authorize?state=test_state", nil
}

func (f *fakeLogin) CompleteLogin(ctx context.Context, code, state string) (*oidc.LoginResult, error) {
	if code != "test_code" || state != "test_state" || f.result == nil {
		return nil, errors.New("invalid_grant")
	}
	result := *f.result
	return &result, nil
}

func (f *fakeLogin) Revoke(ctx context.Context, issuer, clientID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return nil
}

func testLoginResult() *oidc.LoginResult {
	return &oidc.LoginResult{
		HomeserverURL: testHomeserverURL,
		Issuer:        "https://auth.example.com/",
		ClientID:      "client-1",
		DeviceID:      "OIDCDEVICE",
		RedirectURL:   testPageURL,
		AccessToken:   "oidc-access",
		RefreshToken:  "oidc-refresh",
		IDTokenClaims: credentials.IDTokenClaims{Claims: jwt.Claims{
			Issuer:   "https://auth.example.com/",
			Subject:  "subject-1",
			Audience: jwt.Audience{"client-1"},
		}},
	}
}

// countingClient counts Stop calls on the real client it wraps.
type countingClient struct {
	ProtocolClient
	stops *atomic.Int32
}

func (c countingClient) Stop() {
	c.stops.Add(1)
	c.ProtocolClient.Stop()
}

type harness struct {
	homeserver *fakeHomeserver
	navigator  *fakeNavigator
	login      *fakeLogin
	storage    *localstore.Memory
	stops      *atomic.Int32
	controller *Controller
}

type harnessOption func(*Config)

func newHarness(t *testing.T, pageURL string, options ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		homeserver: newFakeHomeserver(),
		navigator:  newFakeNavigator(t, pageURL),
		login:      &fakeLogin{},
		storage:    &localstore.Memory{},
		stops:      &atomic.Int32{},
	}
	httpClient := &http.Client{Transport: handlerTransport{handler: h.homeserver}}
	defaultFactory := DefaultClientFactory(client.Config{})
	config := Config{
		Storage:    h.storage,
		Navigator:  h.navigator,
		Login:      h.login,
		HTTPClient: httpClient,
		NewClient: func(homeserver *messaging.Client, session messaging.SessionConfig) (ProtocolClient, error) {
			protocolClient, err := defaultFactory(homeserver, session)
			if err != nil {
				return nil, err
			}
			return countingClient{ProtocolClient: protocolClient, stops: h.stops}, nil
		},
	}
	for _, option := range options {
		option(&config)
	}
	controller, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.controller = controller
	t.Cleanup(func() { controller.Destroy("") })
	return h
}

func (h *harness) storeMatrix(t *testing.T, stored credentials.MatrixCredentials) {
	t.Helper()
	h.put(t, credentials.MatrixKey, stored)
}

func (h *harness) storeOIDC(t *testing.T, stored credentials.OIDCCredentials) {
	t.Helper()
	h.put(t, credentials.OIDCKey, stored)
}

func (h *harness) put(t *testing.T, key string, value any) {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.storage.Put(context.Background(), key, data); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) storedMatrix(t *testing.T) *credentials.MatrixCredentials {
	t.Helper()
	data, err := h.storage.Get(context.Background(), credentials.MatrixKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var stored credentials.MatrixCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	return &stored
}

func (h *harness) storedOIDC(t *testing.T) *credentials.OIDCCredentials {
	t.Helper()
	data, err := h.storage.Get(context.Background(), credentials.OIDCKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var stored credentials.OIDCCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	return &stored
}

func testMatrixCredentials(accessToken string) credentials.MatrixCredentials {
	return credentials.MatrixCredentials{
		HomeserverURL: testHomeserverURL,
		UserID:        ref.MustParseUserID(testUserID),
		DeviceID:      testDeviceID,
		AccessToken:   accessToken,
	}
}

func testOIDCCredentials(refreshToken string) credentials.OIDCCredentials {
	result := testLoginResult()
	result.RefreshToken = refreshToken
	return *result.Credentials()
}
