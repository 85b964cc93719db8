// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package widgetapi exposes a live Matrix client through the narrow
// capability surface a whiteboard widget uses: room lifecycle, state
// and room event reads and writes (including delayed events), to-device
// messages, user search, media upload, and a TURN server feed.
//
// An [Adapter] registers exactly one listener per push feed on its
// [ProtocolClient] and multicasts through a [fanout.Hub], so any number
// of consumers can follow the feed without adding listeners to the
// client.
//
// Reads only consult rooms the client has loaded; nothing is fetched
// from the server. Capabilities the host does not provide return
// [ErrNotImplemented] instead of silently doing nothing.
package widgetapi
