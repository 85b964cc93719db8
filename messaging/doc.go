// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a hand-written client for the parts of the Matrix
// client-server API a whiteboard host needs.
//
// [Client] is unauthenticated. It discovers the homeserver's delegated
// auth issuer, exchanges legacy SSO login tokens, refreshes native
// Matrix tokens, and builds the SSO redirect URL. [Client.Session]
// turns stored credentials into a [DirectSession].
//
// [DirectSession] carries the access token (and refresh token, when
// there is one) in [secret.Buffer] memory. It covers room lifecycle,
// state and timeline sends including MSC4140 delayed events, to-device
// messages, the user directory, media upload, TURN credentials, /sync,
// and logout. When a [TokenRefresher] is configured, a request that
// fails with M_UNKNOWN_TOKEN triggers one refresh and one retry;
// concurrent failures share a single refresh.
//
// Every non-2xx response is a [*MatrixError]; use [IsMatrixError] to
// test its errcode through wrapping. Request paths are built by string
// concatenation with url.PathEscape per segment.
package messaging
