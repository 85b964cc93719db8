// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Boardhost runs a whiteboard host session from a terminal.
//
// It resumes the stored Matrix session, or walks the user through a
// login: the authorization URL is printed, the user opens it in a
// browser, and pastes back the URL the browser was redirected to. Once
// logged in, boardhost hands the session to the board widget for the
// room given with --room (or every joined room) and logs the room
// events and TURN credentials the widget would receive.
//
// Configuration comes from the file named by --config or
// BOARDHOST_CONFIG (YAML, or JSON with comments for .json/.jsonc
// files). Without either, built-in defaults are used. Flags override
// file values.
//
// Usage:
//
//	boardhost [flags] [callback-url]
//
// A callback-url argument completes a login started by an earlier run.
package main
