// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"slices"

	"github.com/bureau-foundation/boardhost/eventbridge"
	"github.com/bureau-foundation/boardhost/lib/fanout"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/widgetapi"
)

// Phase is the coarse session state shown to the user.
type Phase int

const (
	// Starting is the initial phase, and the phase while a login
	// redirect is under way.
	Starting Phase = iota
	// LoggedIn has a running client.
	LoggedIn
	// NotLoggedIn means the user has to log in.
	NotLoggedIn
	// LoggedOut follows Destroy or Logout.
	LoggedOut
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case LoggedIn:
		return "logged-in"
	case NotLoggedIn:
		return "not-logged-in"
	case LoggedOut:
		return "logged-out"
	default:
		return "unknown"
	}
}

// Reason names why a tier of Start ended the way it did, or why a
// transition happened.
type Reason string

const (
	ReasonInitial Reason = "initial"

	// Resume tier.
	ReasonNoStoredSession Reason = "no-stored-session"
	ReasonTokenInvalid    Reason = "token-invalid"
	ReasonResumeFailed    Reason = "resume-failed"
	ReasonResumed         Reason = "resumed"

	// Login completion tier.
	ReasonNoLoginCallbackParams Reason = "no-login-callback-params"
	ReasonLoginFailed           Reason = "login-failed"
	ReasonLoginCompleted        Reason = "login-completed"

	// Fallback tier.
	ReasonLoginRedirect       Reason = "login-redirect"
	ReasonHomeserverHasNoOIDC Reason = "homeserver-has-no-oidc"
	ReasonLoginRedirectFailed Reason = "login-redirect-failed"
	ReasonLoginRequired       Reason = "login-required"

	// Teardown.
	ReasonDestroyed Reason = "destroyed"
	ReasonLoggedOut Reason = "logged-out"
)

// State is one published value of the session state. LoggedIn is
// non-nil exactly when Phase is LoggedIn.
type State struct {
	Phase  Phase
	Reason Reason
	// Trail lists the reason each Start tier ended with, in order.
	Trail    []Reason
	LoggedIn *LoggedInState
}

func (s State) clone() State {
	s.Trail = slices.Clone(s.Trail)
	return s
}

// LoggedInState is the payload of a LoggedIn state.
type LoggedInState struct {
	UserID        ref.UserID
	DeviceID      string
	HomeserverURL string
	Client        ProtocolClient
	Adapter       *widgetapi.Adapter
	Bridge        *eventbridge.Bridge
	Widget        *WidgetHandoff
}

// StateSubscription yields the state current at subscription time, then
// every later transition in order. It ends after Destroy.
type StateSubscription struct {
	pending    *State
	subscriber *fanout.Subscriber[State]
}

// Next returns the next state. After the controller is destroyed and
// every transition has been delivered it returns ErrDestroyed.
func (s *StateSubscription) Next(ctx context.Context) (State, error) {
	if s.pending != nil {
		state := *s.pending
		s.pending = nil
		return state, nil
	}
	state, err := s.subscriber.Next(ctx)
	if errors.Is(err, fanout.ErrClosed) {
		return State{}, ErrDestroyed
	}
	return state, err
}

// Close ends the subscription.
func (s *StateSubscription) Close() { s.subscriber.Close() }
