// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test helpers shared across boardhost packages:
// bounded channel assertions for asynchronous feeds, and JSON response
// writers for httptest homeserver fakes.
//
// Channel timeouts here use the wall clock on purpose. They bound a
// hung test; they are not part of the behavior under test.
package testutil
