// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps access tokens, refresh tokens, and age identities
// out of the Go heap while a session is live.
//
// A [Buffer] is an anonymous mmap region excluded from core dumps and,
// when the process's memlock limit allows, pinned against swap. Close
// zeroes and unmaps it; any later read panics. [Zero] scrubs transient
// heap copies such as decoded JSON bodies.
package secret
