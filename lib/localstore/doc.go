// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore is the durable key/value storage behind the
// credential store and in-flight login records. Values are opaque
// bytes (JSON in practice).
//
// Backends:
//
//   - [Memory]: process-local, for tests and ephemeral sessions
//   - [Dir]: one 0600 file per key, replaced atomically
//   - [SQLite]: a single kv table via lib/sqlitepool
//   - [Sealed]: age-encrypts every value and delegates to another backend
//
// Every backend reports a missing key as [ErrNotFound] and treats
// deleting a missing key as success.
package localstore
