// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package widgetapi

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/boardhost/client"
	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/messaging"
)

type kickCall struct {
	roomID ref.RoomID
	userID ref.UserID
	reason string
}

type stateCall struct {
	roomID    ref.RoomID
	eventType ref.EventType
	stateKey  string
	content   any
}

type turnListener struct {
	onServers func([]client.TURNServer)
	onError   func(error, bool)
}

// fakeClient records writes and serves reads from in-memory rooms.
type fakeClient struct {
	mu sync.Mutex

	userID   ref.UserID
	rooms    []ref.RoomID
	state    map[ref.RoomID][]messaging.Event
	timeline map[ref.RoomID][]messaging.Event
	members  []messaging.RoomMember

	kickErrors map[ref.UserID]error
	stateErr   error

	kicks      []kickCall
	stateSends []stateCall
	toDevice   []messaging.ToDeviceMessage
	delayed    []string
	uploads    [][]byte

	polling       bool
	turnServers   []client.TURNServer
	turnListeners map[int]turnListener
	nextListener  int

	eventListeners    map[int]func(messaging.Event)
	toDeviceListeners map[int]func(messaging.ToDeviceEvent)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		userID:            ref.MustParseUserID("@host:example.com"),
		state:             make(map[ref.RoomID][]messaging.Event),
		timeline:          make(map[ref.RoomID][]messaging.Event),
		kickErrors:        make(map[ref.UserID]error),
		turnListeners:     make(map[int]turnListener),
		eventListeners:    make(map[int]func(messaging.Event)),
		toDeviceListeners: make(map[int]func(messaging.ToDeviceEvent)),
	}
}

func (f *fakeClient) UserID() ref.UserID { return f.userID }

func (f *fakeClient) CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (*messaging.CreateRoomResponse, error) {
	return &messaging.CreateRoomResponse{RoomID: ref.MustParseRoomID("!new:example.com")}, nil
}

func (f *fakeClient) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	return roomID, nil
}

func (f *fakeClient) LeaveRoom(ctx context.Context, roomID ref.RoomID) error { return nil }

func (f *fakeClient) KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks = append(f.kicks, kickCall{roomID: roomID, userID: userID, reason: reason})
	return f.kickErrors[userID]
}

func (f *fakeClient) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.RoomMember, error) {
	return slices.Clone(f.members), nil
}

func (f *fakeClient) JoinedRooms() []ref.RoomID { return slices.Clone(f.rooms) }

func (f *fakeClient) RoomStateEvents(roomID ref.RoomID, eventType ref.EventType) []messaging.Event {
	var events []messaging.Event
	for _, event := range f.state[roomID] {
		if event.Type == eventType {
			events = append(events, event)
		}
	}
	return events
}

func (f *fakeClient) RoomTimeline(roomID ref.RoomID) []messaging.Event {
	return slices.Clone(f.timeline[roomID])
}

func (f *fakeClient) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error) {
	return ref.MustParseEventID("$sent"), nil
}

func (f *fakeClient) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return ref.EventID{}, f.stateErr
	}
	f.stateSends = append(f.stateSends, stateCall{roomID: roomID, eventType: eventType, stateKey: stateKey, content: content})
	return ref.MustParseEventID("$state"), nil
}

func (f *fakeClient) SendDelayedEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, delay time.Duration, content any) (string, error) {
	return fmt.Sprintf("delay-event-%d", delay.Milliseconds()), nil
}

func (f *fakeClient) SendDelayedStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, delay time.Duration, content any) (string, error) {
	return fmt.Sprintf("delay-state-%d", delay.Milliseconds()), nil
}

func (f *fakeClient) UpdateDelayedEvent(ctx context.Context, delayID, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, delayID+":"+action)
	return nil
}

func (f *fakeClient) SendToDevice(ctx context.Context, eventType ref.EventType, messages []messaging.ToDeviceMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toDevice = append(f.toDevice, messages...)
	return nil
}

func (f *fakeClient) SearchUserDirectory(ctx context.Context, term string, limit int) (*messaging.UserDirectoryResponse, error) {
	return &messaging.UserDirectoryResponse{Results: []messaging.UserDirectoryResult{
		{UserID: ref.MustParseUserID("@" + term + ":example.com")},
	}}, nil
}

func (f *fakeClient) UploadMedia(ctx context.Context, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, data)
	return "mxc://example.com/upload", nil
}

func (f *fakeClient) PollingTURNServers() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polling
}

func (f *fakeClient) TURNServers() []client.TURNServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.turnServers)
}

func (f *fakeClient) AddTURNListener(onServers func([]client.TURNServer), onError func(error, bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextListener
	f.nextListener++
	f.turnListeners[id] = turnListener{onServers: onServers, onError: onError}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.turnListeners, id)
	}
}

func (f *fakeClient) turnListenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turnListeners)
}

func (f *fakeClient) issueTURN(servers []client.TURNServer) {
	f.mu.Lock()
	f.turnServers = servers
	listeners := slices.Collect(maps.Values(f.turnListeners))
	f.mu.Unlock()
	for _, listener := range listeners {
		listener.onServers(servers)
	}
}

func (f *fakeClient) failTURN(err error, fatal bool) {
	f.mu.Lock()
	if fatal {
		f.polling = false
	}
	listeners := slices.Collect(maps.Values(f.turnListeners))
	f.mu.Unlock()
	for _, listener := range listeners {
		listener.onError(err, fatal)
	}
}

func (f *fakeClient) AddEventListener(callback func(messaging.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextListener
	f.nextListener++
	f.eventListeners[id] = callback
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.eventListeners, id)
	}
}

func (f *fakeClient) AddToDeviceListener(callback func(messaging.ToDeviceEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextListener
	f.nextListener++
	f.toDeviceListeners[id] = callback
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.toDeviceListeners, id)
	}
}

func (f *fakeClient) pushEvent(event messaging.Event) {
	f.mu.Lock()
	listeners := slices.Collect(maps.Values(f.eventListeners))
	f.mu.Unlock()
	for _, listener := range listeners {
		listener(event)
	}
}

func (f *fakeClient) pushToDevice(event messaging.ToDeviceEvent) {
	f.mu.Lock()
	listeners := slices.Collect(maps.Values(f.toDeviceListeners))
	f.mu.Unlock()
	for _, listener := range listeners {
		listener(event)
	}
}

func (f *fakeClient) listenerCounts() (events, toDevice int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.eventListeners), len(f.toDeviceListeners)
}

func stateEvent(roomID ref.RoomID, eventType ref.EventType, stateKey string, content map[string]any) messaging.Event {
	return messaging.Event{
		EventID:  ref.MustParseEventID("$" + string(eventType) + "-" + stateKey),
		Type:     eventType,
		RoomID:   roomID,
		StateKey: &stateKey,
		Content:  content,
	}
}

func timelineEvent(roomID ref.RoomID, id string, eventType ref.EventType, content map[string]any) messaging.Event {
	return messaging.Event{
		EventID: ref.MustParseEventID("$" + id),
		Type:    eventType,
		RoomID:  roomID,
		Content: content,
	}
}
