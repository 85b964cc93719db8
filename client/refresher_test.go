// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bureau-foundation/boardhost/lib/testutil"
	"github.com/bureau-foundation/boardhost/messaging"
)

type recordingPersister struct {
	accessToken  string
	refreshToken string
	err          error
}

func (p *recordingPersister) UpdateAccessTokens(ctx context.Context, accessToken, refreshToken string) error {
	p.accessToken = accessToken
	p.refreshToken = refreshToken
	return p.err
}

func newRefreshServer(t *testing.T, body map[string]any) *messaging.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/refresh" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		testutil.WriteJSON(w, http.StatusOK, body)
	}))
	t.Cleanup(server.Close)
	matrix, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	return matrix
}

func TestMatrixRefresher(t *testing.T) {
	t.Run("rotated", func(t *testing.T) {
		persister := &recordingPersister{}
		refresher := NewMatrixRefresher(newRefreshServer(t, map[string]any{
			"access_token": "syt_new", "refresh_token": "syr_new", "expires_in_ms": 60000,
		}), persister, nil)

		tokens, err := refresher.RefreshAccessToken(context.Background(), "syr_old")
		if err != nil {
			t.Fatalf("RefreshAccessToken: %v", err)
		}
		if tokens.AccessToken != "syt_new" || tokens.RefreshToken != "syr_new" || tokens.ExpiresIn != time.Minute {
			t.Errorf("tokens = %+v", tokens)
		}
		if persister.accessToken != "syt_new" || persister.refreshToken != "syr_new" {
			t.Errorf("persisted %q/%q", persister.accessToken, persister.refreshToken)
		}
	})

	t.Run("not rotated keeps refresh token", func(t *testing.T) {
		persister := &recordingPersister{}
		refresher := NewMatrixRefresher(newRefreshServer(t, map[string]any{"access_token": "syt_new"}), persister, nil)

		tokens, err := refresher.RefreshAccessToken(context.Background(), "syr_old")
		if err != nil {
			t.Fatalf("RefreshAccessToken: %v", err)
		}
		if tokens.RefreshToken != "syr_old" || persister.refreshToken != "syr_old" {
			t.Errorf("refresh token = %q, persisted %q, want syr_old", tokens.RefreshToken, persister.refreshToken)
		}
	})

	t.Run("storage failure still returns tokens", func(t *testing.T) {
		persister := &recordingPersister{err: errors.New("disk full")}
		refresher := NewMatrixRefresher(newRefreshServer(t, map[string]any{"access_token": "syt_new"}), persister, nil)

		tokens, err := refresher.RefreshAccessToken(context.Background(), "syr_old")
		if err != nil {
			t.Fatalf("RefreshAccessToken: %v", err)
		}
		if tokens.AccessToken != "syt_new" {
			t.Errorf("AccessToken = %q", tokens.AccessToken)
		}
	})
}
