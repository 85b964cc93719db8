// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credentials persists the two credential bundles a whiteboard
// host keeps between runs:
//
//   - [OIDCCredentials], written after a delegated (OIDC) login, holding
//     the authorization server's client ID and issuer and a snapshot of
//     the ID token claims that later refreshes are checked against;
//   - [MatrixCredentials], written after any successful login, holding
//     what is needed to resume the Matrix session.
//
// Each bundle is one JSON value under its own storage key. Bundles are
// validated when loaded; a missing, unreadable, or invalid bundle is
// treated as absent. Absence is the recovery path, so [Store.Start]
// never fails.
package credentials
