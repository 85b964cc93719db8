// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the live Matrix client behind a whiteboard host
// session. It wraps a [messaging.DirectSession] with the state a
// long-running participant needs:
//
//   - a /sync loop (initial snapshot, then incremental long-polls with
//     exponential backoff) that keeps a store of the joined rooms'
//     current state and recent timeline,
//   - push feeds for room events and to-device messages, delivered to
//     registered listeners in sync order,
//   - TURN credential polling, delivered to TURN listeners whenever the
//     homeserver issues a new server list,
//   - [MatrixRefresher], which renews tokens through the native Matrix
//     /refresh endpoint when no delegated authorization server is
//     involved.
//
// Only incremental syncs are pushed to event listeners. The initial sync
// is history: consumers that need it read the room store and then follow
// the feed.
//
// Listener callbacks run on the goroutine that produced the value and
// must not block. Consumers that need buffering put a
// [fanout.Hub] behind their listener.
package client
