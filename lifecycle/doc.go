// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle owns the whiteboard host's Matrix session: it
// resumes a stored session, completes a login the browser came back
// from (legacy SSO login token or delegated OIDC authorization code),
// or falls back to starting a login or asking for one.
//
// The outcome is published as a single [State] value that any number of
// observers follow through [Controller.Subscribe]. Every State names the
// [Reason] for the transition and the trail of per-tier reasons that led
// to it, so each branch of the decision is visible without parsing
// logs. Only one condition clears stored credentials: the homeserver
// rejecting the stored access token outright (M_UNKNOWN_TOKEN after a
// refresh attempt). Start returns that error wrapped in
// [ErrSessionInvalidated]; every other failure is logged and the next
// tier is tried.
package lifecycle
