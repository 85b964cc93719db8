// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/bureau-foundation/boardhost/lib/ref"
)

// Event is a room event as delivered by /sync, /state, or /messages.
// A non-nil StateKey makes it a state event.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// IsState reports whether the event carries a state key.
func (e Event) IsState() bool { return e.StateKey != nil }

// MessageType returns content.msgtype, or "" when absent.
func (e Event) MessageType() string {
	msgtype, _ := e.Content["msgtype"].(string)
	return msgtype
}

// EventUnsigned holds the server-added unsigned block.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ToDeviceEvent is a message addressed to this device rather than a room.
type ToDeviceEvent struct {
	Type    ref.EventType  `json:"type"`
	Sender  ref.UserID     `json:"sender"`
	Content map[string]any `json:"content"`
}

// ToDeviceMessage is one outgoing to-device payload.
type ToDeviceMessage struct {
	UserID   ref.UserID
	DeviceID string
	Content  any
}

// AuthResponse is returned by the login endpoints.
type AuthResponse struct {
	UserID       ref.UserID `json:"user_id"`
	AccessToken  string     `json:"access_token"`
	DeviceID     string     `json:"device_id"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresInMs  int64      `json:"expires_in_ms,omitempty"`
}

// LoginTokenRequest is the body of an m.login.token login.
type LoginTokenRequest struct {
	Type                     string `json:"type"`
	Token                    string `json:"token"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
	RefreshToken             bool   `json:"refresh_token,omitempty"`
}

// RefreshResponse is returned by POST /refresh.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresInMs  int64  `json:"expires_in_ms,omitempty"`
}

// CreateRoomRequest holds parameters for creating a room.
type CreateRoomRequest struct {
	Name                      string         `json:"name,omitempty"`
	Topic                     string         `json:"topic,omitempty"`
	Alias                     string         `json:"room_alias_name,omitempty"`
	RoomVersion               string         `json:"room_version,omitempty"`
	Visibility                string         `json:"visibility,omitempty"`
	Preset                    string         `json:"preset,omitempty"`
	Invite                    []string       `json:"invite,omitempty"`
	IsDirect                  bool           `json:"is_direct,omitempty"`
	CreationContent           map[string]any `json:"creation_content,omitempty"`
	InitialState              []StateEvent   `json:"initial_state,omitempty"`
	PowerLevelContentOverride map[string]any `json:"power_level_content_override,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent is an initial_state entry for room creation.
type StateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

// SyncOptions controls one /sync request.
type SyncOptions struct {
	Since string
	// Timeout is the long-poll duration in milliseconds. It is sent
	// only when SetTimeout is true so that zero can be requested.
	Timeout    int
	SetTimeout bool
	Filter     string
}

// SyncResponse is the subset of /sync the live client consumes.
type SyncResponse struct {
	NextBatch string          `json:"next_batch"`
	Rooms     RoomsSection    `json:"rooms"`
	ToDevice  ToDeviceSection `json:"to_device"`
}

// ToDeviceSection carries to-device messages for this device.
type ToDeviceSection struct {
	Events []ToDeviceEvent `json:"events"`
}

// RoomsSection groups per-room data by membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is sync data for a joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom is sync data for a pending invite.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is sync data for a room the user left or was removed from.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection is the timeline slice of a room's sync data.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection is the state slice of a room's sync data.
type StateSection struct {
	Events []Event `json:"events"`
}

// SendEventResponse is returned by the send and state endpoints.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// DelayedEventResponse is returned by MSC4140 delayed sends.
type DelayedEventResponse struct {
	DelayID string `json:"delay_id"`
}

// Delayed event update actions (MSC4140).
const (
	DelayedActionSend    = "send"
	DelayedActionCancel  = "cancel"
	DelayedActionRestart = "restart"
)

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
	IsGuest  bool       `json:"is_guest,omitempty"`
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// Membership values of m.room.member.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipKnock  = "knock"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
)

// RoomMember is one entry of a room's member list.
type RoomMember struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Membership  string     `json:"membership"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// RoomMembersResponse is returned by the /members endpoint.
type RoomMembersResponse struct {
	Chunk []RoomMemberEvent `json:"chunk"`
}

// RoomMemberEvent is an m.room.member event from /members.
type RoomMemberEvent struct {
	Type     string            `json:"type"`
	StateKey ref.UserID        `json:"state_key"`
	Sender   ref.UserID        `json:"sender"`
	Content  RoomMemberContent `json:"content"`
}

// RoomMemberContent is the content of an m.room.member event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// KickRequest is the body of POST /rooms/{roomId}/kick.
type KickRequest struct {
	UserID ref.UserID `json:"user_id"`
	Reason string     `json:"reason,omitempty"`
}

// UserDirectoryRequest is the body of POST /user_directory/search.
type UserDirectoryRequest struct {
	SearchTerm string `json:"search_term"`
	Limit      int    `json:"limit,omitempty"`
}

// UserDirectoryResponse is returned by SearchUserDirectory.
type UserDirectoryResponse struct {
	Limited bool                  `json:"limited"`
	Results []UserDirectoryResult `json:"results"`
}

// UserDirectoryResult is one user directory match.
type UserDirectoryResult struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
}

// ServerVersionsResponse is returned by ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// TURNCredentialsResponse is returned by GET /voip/turnServer. An empty
// URIs list means the homeserver has no TURN server configured.
type TURNCredentialsResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
	// TTL is the credential lifetime in seconds.
	TTL int `json:"ttl"`
}
