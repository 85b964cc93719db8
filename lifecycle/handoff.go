// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/bureau-foundation/boardhost/eventbridge"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/widgetapi"
)

// ErrHandoffAbandoned is returned by Wait when the session ended before
// a room was selected.
var ErrHandoffAbandoned = errors.New("lifecycle: session ended before a widget room was selected")

// WidgetParameters is what a widget needs to run against the session.
type WidgetParameters struct {
	RoomID   ref.RoomID
	UserID   ref.UserID
	DeviceID string
	Adapter  *widgetapi.Adapter
	Bridge   *eventbridge.Bridge
}

// WidgetHandoff passes the session to a widget that is created before
// its room is known. The UI calls Resolve once a room is selected; the
// widget side blocks in Wait.
type WidgetHandoff struct {
	session WidgetParameters

	once   sync.Once
	done   chan struct{}
	params WidgetParameters
	err    error
}

func newWidgetHandoff(session WidgetParameters) *WidgetHandoff {
	return &WidgetHandoff{session: session, done: make(chan struct{})}
}

// Resolve completes the handoff for roomID. Only the first call of
// Resolve or abandon has an effect; Resolve reports whether it was the
// one.
func (h *WidgetHandoff) Resolve(roomID ref.RoomID) bool {
	resolved := false
	h.once.Do(func() {
		h.params = h.session
		h.params.RoomID = roomID
		resolved = true
		close(h.done)
	})
	return resolved
}

func (h *WidgetHandoff) abandon() {
	h.once.Do(func() {
		h.err = ErrHandoffAbandoned
		close(h.done)
	})
}

// Wait blocks until Resolve is called, the session ends, or ctx is
// done.
func (h *WidgetHandoff) Wait(ctx context.Context) (WidgetParameters, error) {
	select {
	case <-h.done:
		return h.params, h.err
	case <-ctx.Done():
		return WidgetParameters{}, ctx.Err()
	}
}
