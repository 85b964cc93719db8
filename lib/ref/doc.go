// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable identifier types for the
// Matrix entities the board host deals with: users, rooms, events, and
// event types.
//
// Identifiers arrive from the homeserver (sync responses, room creation,
// login responses) and from persisted credentials. They are parsed into
// these types at the boundary so that the rest of the module never
// confuses a room ID with a user ID or an event type with a state key.
//
// JSON marshaling uses the canonical Matrix string form via
// encoding.TextMarshaler. An empty JSON string unmarshals to the zero
// value, which callers detect with IsZero.
package ref
