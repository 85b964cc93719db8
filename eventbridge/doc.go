// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventbridge turns the adapter's shared push feeds into
// per-consumer filtered streams, and Matrix writes into request/response
// calls.
//
// Observation streams replay the matching events the client already
// holds, then continue with live events. The live subscription is taken
// before the replay read, so an event that arrives while history is
// being read is neither lost nor delivered twice: live events whose ID
// was already replayed are dropped.
//
// SendStateEvent and SendRoomEvent subscribe to the feed before
// writing, then wait for the server's own broadcast of the write. The
// caller therefore receives the event exactly as the server assigned
// it, with its ID, sender and timestamp.
package eventbridge
