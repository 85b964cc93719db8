// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/boardhost/lib/localstore"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/messaging"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func checkTrail(t *testing.T, state State, want ...Reason) {
	t.Helper()
	if !slices.Equal(state.Trail, want) {
		t.Errorf("trail = %v, want %v", state.Trail, want)
	}
}

func TestResumeStoredSession(t *testing.T) {
	h := newHarness(t, testPageURL)
	h.homeserver.allow("stored-access", testUserID, testDeviceID)
	h.storeMatrix(t, testMatrixCredentials("stored-access"))
	ctx := testContext(t)

	subscription := h.controller.Subscribe()
	defer subscription.Close()

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state := h.controller.State()
	if state.Phase != LoggedIn || state.Reason != ReasonResumed {
		t.Fatalf("state = %s/%s, want logged-in/resumed", state.Phase, state.Reason)
	}
	checkTrail(t, state, ReasonResumed)
	loggedIn := state.LoggedIn
	if loggedIn.UserID.String() != testUserID {
		t.Errorf("UserID = %s, want %s", loggedIn.UserID, testUserID)
	}
	if loggedIn.DeviceID != testDeviceID {
		t.Errorf("DeviceID = %q, want %q", loggedIn.DeviceID, testDeviceID)
	}
	if loggedIn.HomeserverURL != testHomeserverURL {
		t.Errorf("HomeserverURL = %q, want %q", loggedIn.HomeserverURL, testHomeserverURL)
	}
	if loggedIn.Client == nil || loggedIn.Adapter == nil || loggedIn.Bridge == nil || loggedIn.Widget == nil {
		t.Fatalf("logged-in state is missing parts: %+v", loggedIn)
	}
	if got := h.stops.Load(); got != 0 {
		t.Errorf("client stopped %d times while logged in", got)
	}

	if err := h.controller.Destroy(""); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	state = h.controller.State()
	if state.Phase != LoggedOut || state.Reason != ReasonDestroyed {
		t.Errorf("state after Destroy = %s/%s, want logged-out/destroyed", state.Phase, state.Reason)
	}
	if got := h.stops.Load(); got != 1 {
		t.Errorf("client stopped %d times, want 1", got)
	}
	if len(h.navigator.navigated) != 0 {
		t.Errorf("navigated to %v, want nothing", h.navigator.navigated)
	}

	if err := h.controller.Destroy(""); !errors.Is(err, ErrDestroyed) {
		t.Errorf("second Destroy = %v, want ErrDestroyed", err)
	}
	if err := h.controller.Start(ctx); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Start after Destroy = %v, want ErrDestroyed", err)
	}
	if got := h.stops.Load(); got != 1 {
		t.Errorf("client stopped %d times after repeated Destroy, want 1", got)
	}

	var phases []Phase
	for {
		next, err := subscription.Next(ctx)
		if errors.Is(err, ErrDestroyed) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		phases = append(phases, next.Phase)
	}
	if want := []Phase{Starting, LoggedIn, LoggedOut}; !slices.Equal(phases, want) {
		t.Errorf("subscription saw %v, want %v", phases, want)
	}
}

func TestStartWhileLoggedIn(t *testing.T) {
	h := newHarness(t, testPageURL)
	h.homeserver.allow("stored-access", testUserID, testDeviceID)
	h.storeMatrix(t, testMatrixCredentials("stored-access"))
	ctx := testContext(t)

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.controller.Start(ctx); !errors.Is(err, ErrLoggedIn) {
		t.Errorf("second Start = %v, want ErrLoggedIn", err)
	}
	if state := h.controller.State(); state.Phase != LoggedIn {
		t.Errorf("phase = %s after rejected Start, want logged-in", state.Phase)
	}
}

func TestStartAgainAfterLoginRequired(t *testing.T) {
	h := newHarness(t, testPageURL)
	ctx := testContext(t)

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	state := h.controller.State()
	if state.Phase != NotLoggedIn || state.Reason != ReasonLoginRequired {
		t.Fatalf("state = %s/%s, want not-logged-in/login-required", state.Phase, state.Reason)
	}
	checkTrail(t, state, ReasonNoStoredSession, ReasonNoLoginCallbackParams)

	h.homeserver.allow("stored-access", testUserID, testDeviceID)
	h.storeMatrix(t, testMatrixCredentials("stored-access"))
	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if state := h.controller.State(); state.Phase != LoggedIn {
		t.Errorf("phase = %s, want logged-in", state.Phase)
	}
}

func TestStoredTokenRejected(t *testing.T) {
	h := newHarness(t, testPageURL)
	h.storeMatrix(t, testMatrixCredentials("revoked-access"))
	h.storeOIDC(t, testOIDCCredentials(""))
	ctx := testContext(t)

	err := h.controller.Start(ctx)
	if !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("Start = %v, want ErrSessionInvalidated", err)
	}
	if !messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
		t.Errorf("Start error %v does not carry M_UNKNOWN_TOKEN", err)
	}

	state := h.controller.State()
	if state.Phase != NotLoggedIn {
		t.Errorf("phase = %s, want not-logged-in", state.Phase)
	}
	checkTrail(t, state, ReasonTokenInvalid, ReasonNoLoginCallbackParams)

	for _, key := range []string{"matrix_credentials", "oidc_credentials"} {
		if _, err := h.storage.Get(ctx, key); !errors.Is(err, localstore.ErrNotFound) {
			t.Errorf("storage.Get(%q) = %v, want ErrNotFound", key, err)
		}
	}
	if got := h.stops.Load(); got != 1 {
		t.Errorf("rejected client stopped %d times, want 1", got)
	}
}

func TestTokenRejectedMidSession(t *testing.T) {
	h := newHarness(t, testPageURL)
	h.homeserver.allow("stored-access", testUserID, testDeviceID)
	h.storeMatrix(t, testMatrixCredentials("stored-access"))
	ctx := testContext(t)

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	subscription := h.controller.Subscribe()
	defer subscription.Close()

	h.homeserver.revoke("stored-access")

	var state State
	for state.Phase != NotLoggedIn {
		var err error
		state, err = subscription.Next(ctx)
		if err != nil {
			t.Fatalf("waiting for not-logged-in: %v", err)
		}
	}
	if state.Reason != ReasonTokenInvalid {
		t.Errorf("reason = %s, want token-invalid", state.Reason)
	}
	if state.LoggedIn != nil {
		t.Error("not-logged-in state still carries the session")
	}
	for _, key := range []string{"matrix_credentials", "oidc_credentials"} {
		if _, err := h.storage.Get(ctx, key); !errors.Is(err, localstore.ErrNotFound) {
			t.Errorf("storage.Get(%q) = %v, want ErrNotFound", key, err)
		}
	}
	if got := h.stops.Load(); got != 1 {
		t.Errorf("client stopped %d times, want 1", got)
	}

	// The controller can start over once the session is gone.
	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if phase := h.controller.State().Phase; phase != NotLoggedIn {
		t.Errorf("phase after second Start = %s, want not-logged-in", phase)
	}
}

func TestResumeRefreshesExpiredToken(t *testing.T) {
	h := newHarness(t, testPageURL)
	stored := testMatrixCredentials("expired-access")
	stored.RefreshToken = "stored-refresh"
	h.storeMatrix(t, stored)
	h.homeserver.refreshes["stored-refresh"] = "fresh-access"
	h.homeserver.allow("fresh-access", testUserID, testDeviceID)
	ctx := testContext(t)

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state := h.controller.State(); state.Phase != LoggedIn {
		t.Fatalf("phase = %s, want logged-in", state.Phase)
	}
	persisted := h.storedMatrix(t)
	if persisted == nil {
		t.Fatal("matrix credentials missing after refresh")
	}
	if persisted.AccessToken != "fresh-access" || persisted.RefreshToken != "fresh-access-refresh" {
		t.Errorf("persisted tokens = %q/%q, want fresh-access/fresh-access-refresh",
			persisted.AccessToken, persisted.RefreshToken)
	}
}

func TestResumeFailureKeepsCredentials(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		h := newHarness(t, testPageURL)
		h.homeserver.allow("stored-access", testUserID, testDeviceID)
		h.homeserver.whoamiFail = 1
		h.storeMatrix(t, testMatrixCredentials("stored-access"))

		if err := h.controller.Start(testContext(t)); err != nil {
			t.Fatalf("Start = %v, want nil for a transient failure", err)
		}
		state := h.controller.State()
		if state.Phase != NotLoggedIn {
			t.Errorf("phase = %s, want not-logged-in", state.Phase)
		}
		checkTrail(t, state, ReasonResumeFailed, ReasonNoLoginCallbackParams)
		if h.storedMatrix(t) == nil {
			t.Error("credentials were cleared after a transient failure")
		}
	})

	t.Run("token of another user", func(t *testing.T) {
		h := newHarness(t, testPageURL)
		h.homeserver.allow("stored-access", "@other:example.com", testDeviceID)
		h.storeMatrix(t, testMatrixCredentials("stored-access"))

		if err := h.controller.Start(testContext(t)); err != nil {
			t.Fatalf("Start: %v", err)
		}
		state := h.controller.State()
		checkTrail(t, state, ReasonResumeFailed, ReasonNoLoginCallbackParams)
		if h.storedMatrix(t) == nil {
			t.Error("credentials were cleared after a user mismatch")
		}
		if got := h.stops.Load(); got != 1 {
			t.Errorf("client stopped %d times, want 1", got)
		}
	})
}

func TestCompleteDelegatedLogin(t *testing.T) {
	h := newHarness(t, testPageURL+"?code=test_code&state=test_state&iss=https%3A%2F%2Fauth.example.com%2F&tab=notes")
	h.login.result = testLoginResult()
	h.homeserver.allow("oidc-access", testUserID, "")
	ctx := testContext(t)

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state := h.controller.State()
	if state.Phase != LoggedIn || state.Reason != ReasonLoginCompleted {
		t.Fatalf("state = %s/%s, want logged-in/login-completed", state.Phase, state.Reason)
	}
	checkTrail(t, state, ReasonNoStoredSession, ReasonLoginCompleted)
	if state.LoggedIn.UserID.String() != testUserID {
		t.Errorf("UserID = %s, want %s", state.LoggedIn.UserID, testUserID)
	}
	// whoami reported no device, so the token response's device is kept.
	if state.LoggedIn.DeviceID != "OIDCDEVICE" {
		t.Errorf("DeviceID = %q, want OIDCDEVICE", state.LoggedIn.DeviceID)
	}

	if want := []string{testPageURL + "?tab=notes"}; !slices.Equal(h.navigator.replaced, want) {
		t.Errorf("replaced URLs = %v, want %v", h.navigator.replaced, want)
	}

	matrix := h.storedMatrix(t)
	if matrix == nil || matrix.AccessToken != "oidc-access" || matrix.RefreshToken != "oidc-refresh" || matrix.DeviceID != "OIDCDEVICE" {
		t.Errorf("stored matrix credentials = %+v", matrix)
	}
	delegated := h.storedOIDC(t)
	if delegated == nil || delegated.Issuer != "https://auth.example.com/" || delegated.ClientID != "client-1" {
		t.Errorf("stored OIDC credentials = %+v", delegated)
	}
}

func TestCompleteLegacyLogin(t *testing.T) {
	h := newHarness(t, testPageURL+"?loginToken=legacy-token")
	ctx := testContext(t)
	if err := h.storage.Put(ctx, SSOPendingKey, []byte(testHomeserverURL)); err != nil {
		t.Fatal(err)
	}
	h.storeOIDC(t, testOIDCCredentials("old-refresh"))

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state := h.controller.State()
	if state.Phase != LoggedIn {
		t.Fatalf("phase = %s, want logged-in (trail %v)", state.Phase, state.Trail)
	}
	checkTrail(t, state, ReasonNoStoredSession, ReasonLoginCompleted)
	if state.LoggedIn.UserID.String() != "@legacy:example.com" || state.LoggedIn.DeviceID != "LEGACYDEVICE" {
		t.Errorf("logged in as %s/%s, want @legacy:example.com/LEGACYDEVICE",
			state.LoggedIn.UserID, state.LoggedIn.DeviceID)
	}

	if _, err := h.storage.Get(ctx, SSOPendingKey); !errors.Is(err, localstore.ErrNotFound) {
		t.Errorf("pending SSO homeserver still stored: %v", err)
	}
	if h.storedOIDC(t) != nil {
		t.Error("OIDC credentials survived a legacy login")
	}
	if matrix := h.storedMatrix(t); matrix == nil || matrix.RefreshToken != "legacy-refresh" {
		t.Errorf("stored matrix credentials = %+v", matrix)
	}
	if want := []string{testPageURL}; !slices.Equal(h.navigator.replaced, want) {
		t.Errorf("replaced URLs = %v, want %v", h.navigator.replaced, want)
	}
}

func TestLoginTokenTakesPrecedence(t *testing.T) {
	h := newHarness(t, testPageURL+"?loginToken=legacy-token&code=test_code&state=test_state",
		func(config *Config) { config.HomeserverURL = testHomeserverURL })
	h.login.result = testLoginResult()
	h.homeserver.allow("oidc-access", testUserID, "")

	if err := h.controller.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state := h.controller.State()
	if state.Phase != LoggedIn || state.LoggedIn.UserID.String() != "@legacy:example.com" {
		t.Fatalf("state = %s as %v, want logged in as @legacy:example.com", state.Phase, state.LoggedIn)
	}
}

func TestLoginCompletionFailure(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"code rejected", "?code=wrong_code&state=test_state"},
		{"authorization denied", "?error=access_denied&error_description=nope&state=test_state"},
		{"login token without homeserver", "?loginToken=legacy-token"},
		{"login token rejected", "?loginToken=stale-token"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var options []harnessOption
			if test.name == "login token rejected" {
				options = append(options, func(config *Config) { config.HomeserverURL = testHomeserverURL })
			}
			h := newHarness(t, testPageURL+test.query, options...)
			h.login.result = testLoginResult()

			if err := h.controller.Start(testContext(t)); err != nil {
				t.Fatalf("Start: %v", err)
			}
			state := h.controller.State()
			if state.Phase != NotLoggedIn || state.Reason != ReasonLoginRequired {
				t.Errorf("state = %s/%s, want not-logged-in/login-required", state.Phase, state.Reason)
			}
			checkTrail(t, state, ReasonNoStoredSession, ReasonLoginFailed)
			if want := []string{testPageURL}; !slices.Equal(h.navigator.replaced, want) {
				t.Errorf("replaced URLs = %v, want %v", h.navigator.replaced, want)
			}
			if h.storedMatrix(t) != nil {
				t.Error("credentials stored after a failed login")
			}
		})
	}
}

func TestAutoStartRedirect(t *testing.T) {
	autoStart := func(config *Config) {
		config.HomeserverURL = testHomeserverURL
		config.AutoStart = true
	}

	t.Run("delegated", func(t *testing.T) {
		h := newHarness(t, testPageURL+"#board", autoStart)
		h.homeserver.authIssuer = "https://auth.example.com/"

		if err := h.controller.Start(testContext(t)); err != nil {
			t.Fatalf("Start: %v", err)
		}
		state := h.controller.State()
		if state.Phase != Starting || state.Reason != ReasonLoginRedirect {
			t.Errorf("state = %s/%s, want starting/login-redirect", state.Phase, state.Reason)
		}
		checkTrail(t, state, ReasonNoStoredSession, ReasonNoLoginCallbackParams, ReasonLoginRedirect)
		if want := []string{"https://auth.example.com/ " + testPageURL}; !slices.Equal(h.login.begun, want) {
			t.Errorf("BeginLogin calls = %v, want %v", h.login.begun, want)
		}
		if want := []string{"https://auth.example.com/authorize?state=test_state"}; !slices.Equal(h.navigator.navigated, want) {
			t.Errorf("navigated to %v, want %v", h.navigator.navigated, want)
		}
	})

	t.Run("legacy SSO", func(t *testing.T) {
		h := newHarness(t, testPageURL, autoStart)
		ctx := testContext(t)

		if err := h.controller.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		state := h.controller.State()
		if state.Phase != Starting || state.Reason != ReasonHomeserverHasNoOIDC {
			t.Errorf("state = %s/%s, want starting/homeserver-has-no-oidc", state.Phase, state.Reason)
		}
		want := "https://matrix.example.com/_matrix/client/v3/login/sso/redirect?" +
			url.Values{"redirectUrl": {testPageURL}}.Encode()
		if !slices.Equal(h.navigator.navigated, []string{want}) {
			t.Errorf("navigated to %v, want [%s]", h.navigator.navigated, want)
		}
		pending, err := h.storage.Get(ctx, SSOPendingKey)
		if err != nil || string(pending) != testHomeserverURL {
			t.Errorf("pending SSO homeserver = %q, %v; want %q", pending, err, testHomeserverURL)
		}
		if len(h.login.begun) != 0 {
			t.Errorf("BeginLogin called for a homeserver without an issuer: %v", h.login.begun)
		}
	})

	t.Run("without auto-start", func(t *testing.T) {
		h := newHarness(t, testPageURL, func(config *Config) { config.HomeserverURL = testHomeserverURL })

		if err := h.controller.Start(testContext(t)); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if state := h.controller.State(); state.Phase != NotLoggedIn {
			t.Errorf("phase = %s, want not-logged-in", state.Phase)
		}
		if len(h.navigator.navigated) != 0 {
			t.Errorf("navigated to %v without auto-start", h.navigator.navigated)
		}
	})
}

func TestBeginLogin(t *testing.T) {
	h := newHarness(t, testPageURL)
	h.homeserver.authIssuer = "https://auth.example.com/"
	ctx := testContext(t)

	if err := h.controller.BeginLogin(ctx, ""); err == nil {
		t.Error("BeginLogin without any homeserver succeeded")
	}
	if err := h.controller.BeginLogin(ctx, testHomeserverURL); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if len(h.navigator.navigated) != 1 {
		t.Errorf("navigated to %v, want one authorization redirect", h.navigator.navigated)
	}

	h.controller.Destroy("")
	if err := h.controller.BeginLogin(ctx, testHomeserverURL); !errors.Is(err, ErrDestroyed) {
		t.Errorf("BeginLogin after Destroy = %v, want ErrDestroyed", err)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t, testPageURL)
	h.homeserver.allow("stored-access", testUserID, testDeviceID)
	stored := testMatrixCredentials("stored-access")
	stored.RefreshToken = "oidc-refresh"
	h.storeMatrix(t, stored)
	h.storeOIDC(t, testOIDCCredentials("oidc-refresh"))
	ctx := testContext(t)

	if err := h.controller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.controller.Logout(ctx, "https://board.example.com/goodbye"); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	state := h.controller.State()
	if state.Phase != LoggedOut || state.Reason != ReasonLoggedOut {
		t.Errorf("state = %s/%s, want logged-out/logged-out", state.Phase, state.Reason)
	}
	if h.homeserver.logouts != 1 {
		t.Errorf("homeserver saw %d logouts, want 1", h.homeserver.logouts)
	}
	if want := []string{"oidc-refresh"}; !slices.Equal(h.login.revoked, want) {
		t.Errorf("revoked = %v, want %v", h.login.revoked, want)
	}
	if keys := h.storage.Keys(); len(keys) != 0 {
		t.Errorf("storage still holds %v", keys)
	}
	if got := h.stops.Load(); got != 1 {
		t.Errorf("client stopped %d times, want 1", got)
	}
	if want := []string{"https://board.example.com/goodbye"}; !slices.Equal(h.navigator.navigated, want) {
		t.Errorf("navigated to %v, want %v", h.navigator.navigated, want)
	}
	if err := h.controller.Logout(ctx, ""); !errors.Is(err, ErrDestroyed) {
		t.Errorf("second Logout = %v, want ErrDestroyed", err)
	}
}

func TestWidgetHandoff(t *testing.T) {
	roomID := ref.MustParseRoomID("!board:example.com")

	start := func(t *testing.T) (*harness, *LoggedInState) {
		t.Helper()
		h := newHarness(t, testPageURL)
		h.homeserver.allow("stored-access", testUserID, testDeviceID)
		h.storeMatrix(t, testMatrixCredentials("stored-access"))
		if err := h.controller.Start(testContext(t)); err != nil {
			t.Fatalf("Start: %v", err)
		}
		return h, h.controller.State().LoggedIn
	}

	t.Run("resolve", func(t *testing.T) {
		_, loggedIn := start(t)
		waited := make(chan WidgetParameters, 1)
		go func() {
			params, err := loggedIn.Widget.Wait(context.Background())
			if err != nil {
				t.Errorf("Wait: %v", err)
			}
			waited <- params
		}()

		if !loggedIn.Widget.Resolve(roomID) {
			t.Fatal("first Resolve reported false")
		}
		if loggedIn.Widget.Resolve(ref.MustParseRoomID("!other:example.com")) {
			t.Error("second Resolve reported true")
		}
		params := <-waited
		if params.RoomID != roomID {
			t.Errorf("RoomID = %s, want %s", params.RoomID, roomID)
		}
		if params.UserID.String() != testUserID || params.DeviceID != testDeviceID {
			t.Errorf("identity = %s/%s", params.UserID, params.DeviceID)
		}
		if params.Adapter != loggedIn.Adapter || params.Bridge != loggedIn.Bridge {
			t.Error("handoff carries a different adapter or bridge than the session")
		}
	})

	t.Run("abandoned by destroy", func(t *testing.T) {
		h, loggedIn := start(t)
		if err := h.controller.Destroy(""); err != nil {
			t.Fatalf("Destroy: %v", err)
		}
		if _, err := loggedIn.Widget.Wait(context.Background()); !errors.Is(err, ErrHandoffAbandoned) {
			t.Errorf("Wait = %v, want ErrHandoffAbandoned", err)
		}
		if loggedIn.Widget.Resolve(roomID) {
			t.Error("Resolve succeeded after the session ended")
		}
	})

	t.Run("wait honors context", func(t *testing.T) {
		_, loggedIn := start(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := loggedIn.Widget.Wait(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Wait = %v, want context.Canceled", err)
		}
	})
}

func TestNewValidation(t *testing.T) {
	navigator := newFakeNavigator(t, testPageURL)
	tests := []struct {
		name   string
		config Config
	}{
		{"missing storage", Config{Navigator: navigator}},
		{"missing navigator", Config{Storage: &localstore.Memory{}}},
		{"bad homeserver", Config{Storage: &localstore.Memory{}, Navigator: navigator, HomeserverURL: "ftp://matrix.example.com"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := New(test.config); err == nil {
				t.Error("New succeeded")
			}
		})
	}
}

func TestSubscribeAfterDestroy(t *testing.T) {
	h := newHarness(t, testPageURL)
	if err := h.controller.Destroy(""); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	subscription := h.controller.Subscribe()
	defer subscription.Close()
	ctx := testContext(t)

	state, err := subscription.Next(ctx)
	if err != nil || state.Phase != LoggedOut {
		t.Fatalf("first Next = %s, %v; want the logged-out state", state.Phase, err)
	}
	if _, err := subscription.Next(ctx); !errors.Is(err, ErrDestroyed) {
		t.Errorf("second Next = %v, want ErrDestroyed", err)
	}
}
