// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package widgetapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/boardhost/client"
	"github.com/bureau-foundation/boardhost/lib/fanout"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/messaging"
)

// ErrNotImplemented is returned for capabilities the host does not
// provide.
var ErrNotImplemented = errors.New("widgetapi: not implemented")

// ProtocolClient is the client surface the adapter consumes.
// *client.Client implements it.
type ProtocolClient interface {
	UserID() ref.UserID

	CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error)
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error
	KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error
	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.RoomMember, error)

	JoinedRooms() []ref.RoomID
	RoomStateEvents(roomID ref.RoomID, eventType ref.EventType) []messaging.Event
	RoomTimeline(roomID ref.RoomID) []messaging.Event

	SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error)
	SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error)
	SendDelayedEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, delay time.Duration, content any) (string, error)
	SendDelayedStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, delay time.Duration, content any) (string, error)
	UpdateDelayedEvent(ctx context.Context, delayID, action string) error
	SendToDevice(ctx context.Context, eventType ref.EventType, messages []messaging.ToDeviceMessage) error

	SearchUserDirectory(ctx context.Context, term string, limit int) (*messaging.UserDirectoryResponse, error)
	UploadMedia(ctx context.Context, contentType string, data []byte) (string, error)

	PollingTURNServers() bool
	TURNServers() []client.TURNServer
	AddTURNListener(onServers func([]client.TURNServer), onError func(err error, fatal bool)) (remove func())

	AddEventListener(callback func(messaging.Event)) (remove func())
	AddToDeviceListener(callback func(messaging.ToDeviceEvent)) (remove func())
}

var _ ProtocolClient = (*client.Client)(nil)

// DelayID is the server's handle for a scheduled event.
type DelayID string

// DelayedAction is applied to a scheduled event by UpdateDelayedEvent.
type DelayedAction string

const (
	// DelayedSend sends the event now.
	DelayedSend DelayedAction = messaging.DelayedActionSend
	// DelayedCancel discards the event.
	DelayedCancel DelayedAction = messaging.DelayedActionCancel
	// DelayedRestart restarts the delay countdown.
	DelayedRestart DelayedAction = messaging.DelayedActionRestart
)

// Adapter is safe for concurrent use.
type Adapter struct {
	client ProtocolClient
	logger *slog.Logger

	events   *fanout.Hub[messaging.Event]
	toDevice *fanout.Hub[messaging.ToDeviceEvent]

	closeOnce      sync.Once
	removeEvents   func()
	removeToDevice func()
}

// NewAdapter wraps client and registers the adapter's feed listeners.
func NewAdapter(client ProtocolClient, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	adapter := &Adapter{
		client:   client,
		logger:   logger,
		events:   fanout.New[messaging.Event](),
		toDevice: fanout.New[messaging.ToDeviceEvent](),
	}
	adapter.removeEvents = client.AddEventListener(adapter.events.Publish)
	adapter.removeToDevice = client.AddToDeviceListener(adapter.toDevice.Publish)
	return adapter
}

// Close unregisters the feed listeners and ends every subscription.
// Idempotent.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		a.removeEvents()
		a.removeToDevice()
		a.events.Close()
		a.toDevice.Close()
	})
}

// UserID returns the client's user.
func (a *Adapter) UserID() ref.UserID { return a.client.UserID() }

// Events subscribes to the shared room event feed. The subscriber sees
// every event pushed after this call, in order. Close it when done.
func (a *Adapter) Events() *fanout.Subscriber[messaging.Event] {
	return a.events.Subscribe()
}

// ToDeviceEvents subscribes to the shared to-device feed.
func (a *Adapter) ToDeviceEvents() *fanout.Subscriber[messaging.ToDeviceEvent] {
	return a.toDevice.Subscribe()
}

// CreateRoom creates a room.
func (a *Adapter) CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (ref.RoomID, error) {
	response, err := a.client.CreateRoom(ctx, request)
	if err != nil {
		return ref.RoomID{}, err
	}
	return response.RoomID, nil
}

// JoinRoom joins roomID.
func (a *Adapter) JoinRoom(ctx context.Context, roomID ref.RoomID) error {
	_, err := a.client.JoinRoom(ctx, roomID)
	return err
}

// LeaveRoom leaves roomID.
func (a *Adapter) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	return a.client.LeaveRoom(ctx, roomID)
}

// SearchUserDirectory searches the homeserver's user directory.
func (a *Adapter) SearchUserDirectory(ctx context.Context, term string, limit int) (*messaging.UserDirectoryResponse, error) {
	return a.client.SearchUserDirectory(ctx, term, limit)
}

// UploadFile stores body in the media repository and returns its mxc
// URI.
func (a *Adapter) UploadFile(ctx context.Context, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("widgetapi: reading upload: %w", err)
	}
	return a.client.UploadMedia(ctx, contentType, data)
}

// OpenIDToken is the token a widget presents to a third party to prove
// the user's identity.
type OpenIDToken struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	MatrixServerName string `json:"matrix_server_name"`
	ExpiresIn        int    `json:"expires_in"`
}

// GetOpenIDToken is not provided by the host.
func (a *Adapter) GetOpenIDToken(ctx context.Context) (*OpenIDToken, error) {
	return nil, ErrNotImplemented
}

// ReadRelations is not provided by the host.
func (a *Adapter) ReadRelations(ctx context.Context, roomID ref.RoomID, eventID ref.EventID, relationType string, eventType ref.EventType, limit int) ([]messaging.Event, error) {
	return nil, ErrNotImplemented
}
