// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/bureau-foundation/boardhost/credentials"
	"github.com/bureau-foundation/boardhost/lib/localstore"
)

// completeLogin finishes the login the current URL returned from, if
// any. A legacy login token takes precedence over an authorization
// code.
func (c *Controller) completeLogin(ctx context.Context) (*LoggedInState, Reason) {
	current := c.navigator.CurrentURL()
	query := current.Query()
	loginToken := query.Get("loginToken")
	code, state := query.Get("code"), query.Get("state")

	if loginToken == "" && (code == "" || state == "") {
		if denied := query.Get("error"); denied != "" && state != "" {
			c.logger.Warn("authorization server refused the login",
				"error", denied,
				"description", query.Get("error_description"),
			)
			c.stripCallbackParams(current)
			return nil, ReasonLoginFailed
		}
		return nil, ReasonNoLoginCallbackParams
	}
	defer c.stripCallbackParams(current)

	var loggedIn *LoggedInState
	var err error
	if loginToken != "" {
		loggedIn, err = c.completeLegacyLogin(ctx, loginToken)
	} else {
		loggedIn, err = c.completeDelegatedLogin(ctx, code, state)
	}
	if err != nil {
		c.logger.Warn("completing login failed", "legacy", loginToken != "", "error", err)
		return nil, ReasonLoginFailed
	}
	c.logger.Info("login completed", "user_id", loggedIn.UserID, "device_id", loggedIn.DeviceID)
	return loggedIn, ReasonLoginCompleted
}

func (c *Controller) completeLegacyLogin(ctx context.Context, loginToken string) (*LoggedInState, error) {
	homeserverURL := c.homeserverURL
	data, err := c.storage.Get(ctx, SSOPendingKey)
	switch {
	case err == nil:
		homeserverURL = string(data)
		if err := c.storage.Delete(ctx, SSOPendingKey); err != nil {
			c.logger.Warn("removing pending SSO login failed", "error", err)
		}
	case errors.Is(err, localstore.ErrNotFound):
	default:
		return nil, fmt.Errorf("lifecycle: reading pending SSO login: %w", err)
	}
	if homeserverURL == "" {
		return nil, fmt.Errorf("lifecycle: login token received but no homeserver is known")
	}

	homeserver, err := c.homeserver(homeserverURL)
	if err != nil {
		return nil, err
	}
	auth, err := homeserver.LoginWithToken(ctx, loginToken, "")
	if err != nil {
		return nil, err
	}
	stored := &credentials.MatrixCredentials{
		HomeserverURL: homeserverURL,
		UserID:        auth.UserID,
		DeviceID:      auth.DeviceID,
		AccessToken:   auth.AccessToken,
		RefreshToken:  auth.RefreshToken,
	}
	// A legacy login replaces any earlier delegated session.
	if err := c.credentials.SetOIDCCredentials(ctx, nil); err != nil {
		return nil, err
	}
	if err := c.credentials.SetMatrixCredentials(ctx, stored); err != nil {
		return nil, err
	}
	return c.startSession(ctx, stored)
}

func (c *Controller) completeDelegatedLogin(ctx context.Context, code, state string) (*LoggedInState, error) {
	result, err := c.login.CompleteLogin(ctx, code, state)
	if err != nil {
		return nil, err
	}
	homeserver, err := c.homeserver(result.HomeserverURL)
	if err != nil {
		return nil, err
	}
	whoami, err := homeserver.WhoAmI(ctx, result.AccessToken)
	if err != nil {
		return nil, err
	}
	deviceID := whoami.DeviceID
	if deviceID == "" {
		deviceID = result.DeviceID
	}
	stored := &credentials.MatrixCredentials{
		HomeserverURL: result.HomeserverURL,
		UserID:        whoami.UserID,
		DeviceID:      deviceID,
		AccessToken:   result.AccessToken,
		RefreshToken:  result.RefreshToken,
	}
	if err := c.credentials.SetOIDCCredentials(ctx, result.Credentials()); err != nil {
		return nil, err
	}
	if err := c.credentials.SetMatrixCredentials(ctx, stored); err != nil {
		return nil, err
	}
	return c.startSession(ctx, stored)
}

func (c *Controller) stripCallbackParams(current *url.URL) {
	cleaned := *current
	query := cleaned.Query()
	for _, name := range callbackParams {
		query.Del(name)
	}
	cleaned.RawQuery = query.Encode()
	c.navigator.ReplaceURL(&cleaned)
}

// BeginLogin sends the user to log in at homeserverURL, or at the
// configured homeserver when empty. Homeservers that delegate to an
// OIDC issuer get the authorization code flow; others the legacy SSO
// redirect.
func (c *Controller) BeginLogin(ctx context.Context, homeserverURL string) error {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}
	if homeserverURL == "" {
		homeserverURL = c.homeserverURL
	}
	if homeserverURL == "" {
		return fmt.Errorf("lifecycle: no homeserver to log in to")
	}
	_, err := c.redirectToLogin(ctx, homeserverURL)
	return err
}

func (c *Controller) redirectToLogin(ctx context.Context, homeserverURL string) (Reason, error) {
	homeserver, err := c.homeserver(homeserverURL)
	if err != nil {
		return ReasonLoginRedirectFailed, err
	}
	issuer, err := homeserver.AuthIssuer(ctx)
	if err != nil {
		return ReasonLoginRedirectFailed, err
	}
	if issuer != "" {
		target, err := c.login.BeginLogin(ctx, homeserverURL, issuer, c.redirectURL)
		if err != nil {
			return ReasonLoginRedirectFailed, err
		}
		c.logger.Info("redirecting to authorization server", "issuer", issuer)
		c.navigator.Navigate(target)
		return ReasonLoginRedirect, nil
	}

	if err := c.storage.Put(ctx, SSOPendingKey, []byte(homeserverURL)); err != nil {
		return ReasonLoginRedirectFailed, fmt.Errorf("lifecycle: storing pending SSO login: %w", err)
	}
	c.logger.Info("homeserver has no delegated auth, using legacy SSO", "homeserver_url", homeserverURL)
	c.navigator.Navigate(homeserver.SSORedirectURL(c.redirectURL))
	return ReasonHomeserverHasNoOIDC, nil
}
